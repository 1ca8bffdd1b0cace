// Package apiresponses provides the JSON response helpers of the HTTP API
// and the mapping from failure kinds to HTTP status codes.
package apiresponses
