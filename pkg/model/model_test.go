package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClusterCredentialAuthMode(t *testing.T) {
	tests := []struct {
		name string
		cred ClusterCredential
		want AuthMode
	}{
		{"token only", ClusterCredential{Token: "abc"}, AuthToken},
		{"token wins over certificate", ClusterCredential{Token: "abc", ClientCert: "c", ClientKey: "k"}, AuthToken},
		{"certificate pair", ClusterCredential{ClientCert: "c", ClientKey: "k"}, AuthCertificate},
		{"blank token ignored", ClusterCredential{Token: "  ", ClientCert: "c", ClientKey: "k"}, AuthCertificate},
		{"certificate without key", ClusterCredential{ClientCert: "c"}, AuthNone},
		{"nothing", ClusterCredential{}, AuthNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cred.AuthMode())
		})
	}
}
