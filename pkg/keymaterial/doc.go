// Package keymaterial detects the family and container format of stored
// private keys and normalizes them to PKCS#8 PEM for both client-go and the
// helm command line.
package keymaterial
