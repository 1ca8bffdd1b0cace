// Package process runs shell command lines under a wall-clock timeout and
// classifies their combined output into failure kinds.
package process
