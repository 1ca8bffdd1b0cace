// Package mail notifies operators by email when a background deployment
// fails. It provides an SMTP sender with retry and a deployment event sink
// that renders and sends the notification.
package mail
