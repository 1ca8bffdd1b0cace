package model

import (
	"strings"
	"time"
)

// ClusterStatus is the last-known health of a registered cluster.
type ClusterStatus string

const (
	ClusterActive   ClusterStatus = "ACTIVE"
	ClusterInactive ClusterStatus = "INACTIVE"
	ClusterUnknown  ClusterStatus = "UNKNOWN"
)

// AuthMode is the authentication branch a credential resolves to.
type AuthMode string

const (
	AuthNone        AuthMode = ""
	AuthToken       AuthMode = "token"
	AuthCertificate AuthMode = "certificate"
)

// ClusterCredential is the stored connection material for one target cluster.
// ServerCA, ClientCert and ClientKey are base64 encoded.
type ClusterCredential struct {
	ID           string        `json:"id" yaml:"id"`
	Description  string        `json:"description,omitempty" yaml:"description"`
	Status       ClusterStatus `json:"status" yaml:"status"`
	Version      string        `json:"version,omitempty" yaml:"version"`
	APIServerURL string        `json:"apiServerUrl" yaml:"apiServerUrl"`
	ServerCA     string        `json:"-" yaml:"serverCa"`
	ClientCert   string        `json:"-" yaml:"clientCert"`
	ClientKey    string        `json:"-" yaml:"clientKey"`
	Token        string        `json:"-" yaml:"token"`
	Type         string        `json:"type,omitempty" yaml:"type"`
	Provider     string        `json:"provider,omitempty" yaml:"provider"`
}

// AuthMode returns token auth whenever a non-blank token is stored, even if
// certificate fields are populated too.
func (c ClusterCredential) AuthMode() AuthMode {
	switch {
	case strings.TrimSpace(c.Token) != "":
		return AuthToken
	case strings.TrimSpace(c.ClientCert) != "" && strings.TrimSpace(c.ClientKey) != "":
		return AuthCertificate
	default:
		return AuthNone
	}
}

// Repository is a remote chart source.
type Repository struct {
	Name                  string `json:"name" yaml:"name"`
	URL                   string `json:"url" yaml:"url"`
	Username              string `json:"username,omitempty" yaml:"username"`
	Password              string `json:"-" yaml:"password"`
	CAFile                string `json:"caFile,omitempty" yaml:"caFile"`
	InsecureSkipTLSVerify bool   `json:"insecureSkipTlsVerify,omitempty" yaml:"insecureSkipTlsVerify"`
}

// DeploymentRequest describes a chart install. It is not modified after it
// has been accepted.
type DeploymentRequest struct {
	Repository  string
	Chart       string
	ReleaseName string
	ClusterID   string
	Namespace   string
	Version     string
	Values      map[string]any
	ValuesFile  []byte
	Wait        bool
	Timeout     time.Duration
}

// DefaultDeployTimeout is the helm --timeout applied when Wait is set and
// no explicit timeout was requested.
const DefaultDeployTimeout = 300 * time.Second

// MaxDeployTimeout is the largest helm --timeout a request may ask for.
const MaxDeployTimeout = 24 * time.Hour

// DefaultNamespace is used when a request names no namespace.
const DefaultNamespace = "default"

// DeploymentOutcome is the synchronous answer to a deploy request.
type DeploymentOutcome struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ReleaseName string `json:"releaseName,omitempty"`
	Namespace   string `json:"namespace,omitempty"`
	ClusterID   string `json:"clusterId,omitempty"`
	Version     string `json:"chartVersion,omitempty"`
	TaskID      string `json:"taskId,omitempty"`
}

// Release is one entry of `helm list --output json`.
type Release struct {
	Name       string `json:"name"`
	Namespace  string `json:"namespace"`
	Revision   string `json:"revision"`
	Updated    string `json:"updated"`
	Status     string `json:"status"`
	Chart      string `json:"chart"`
	AppVersion string `json:"app_version,omitempty"`
}
