// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package kubeconfig

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"go.uber.org/zap"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
	"k8s.io/utils/clock"

	"github.com/telekom/k8s-chartdeploy/pkg/failure"
	"github.com/telekom/k8s-chartdeploy/pkg/keymaterial"
	"github.com/telekom/k8s-chartdeploy/pkg/metrics"
	"github.com/telekom/k8s-chartdeploy/pkg/model"
	"github.com/telekom/k8s-chartdeploy/pkg/naming"
)

// Descriptor is a kubeconfig file materialized for exactly one operation.
type Descriptor struct {
	Path      string
	ClusterID string
	AuthMode  model.AuthMode
}

// Env returns the environment override pointing helm at this descriptor.
func (d *Descriptor) Env() []string {
	return []string{"KUBECONFIG=" + d.Path}
}

// Factory creates and removes per-operation descriptors.
type Factory interface {
	Build(cred model.ClusterCredential) (*Descriptor, error)
	Remove(d *Descriptor) error
}

// Builder assembles kubeconfigs from stored cluster credentials.
type Builder struct {
	dir   string
	keys  *keymaterial.Materializer
	clock clock.PassiveClock
	log   *zap.SugaredLogger
}

type Option func(*Builder)

// WithClock overrides the clock used for file name timestamps.
func WithClock(c clock.PassiveClock) Option {
	return func(b *Builder) { b.clock = c }
}

// NewBuilder writes descriptors into dir, or os.TempDir() when dir is empty.
func NewBuilder(dir string, log *zap.SugaredLogger, opts ...Option) *Builder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	b := &Builder{
		dir:   dir,
		keys:  keymaterial.NewMaterializer(log),
		clock: clock.RealClock{},
		log:   log.Named("kubeconfig"),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Config builds the in-memory kubeconfig with one cluster, one context and
// one user. A non-blank token always produces token auth and no certificate
// fields; otherwise the client certificate and the PKCS#8-normalized key are used.
func (b *Builder) Config(cred model.ClusterCredential) (*clientcmdapi.Config, error) {
	if strings.TrimSpace(cred.ID) == "" {
		return nil, b.buildError(cred, "missing_id", failure.Configuration("cluster credential has no id"))
	}
	if strings.TrimSpace(cred.APIServerURL) == "" {
		return nil, b.buildError(cred, "missing_server", failure.Configuration("cluster %s has no API server URL", cred.ID))
	}

	cluster := clientcmdapi.NewCluster()
	cluster.Server = strings.TrimSpace(cred.APIServerURL)
	if strings.TrimSpace(cred.ServerCA) != "" {
		ca, err := decodeData(cred.ServerCA)
		if err != nil {
			return nil, b.buildError(cred, "invalid_ca", failure.Configuration("cluster %s has an undecodable server CA", cred.ID).Wrap(err))
		}
		cluster.CertificateAuthorityData = ca
	} else {
		// no CA stored: trust the server certificate as presented
		cluster.InsecureSkipTLSVerify = true
	}

	user := clientcmdapi.NewAuthInfo()
	switch cred.AuthMode() {
	case model.AuthToken:
		user.Token = strings.TrimSpace(cred.Token)
	case model.AuthCertificate:
		certData, err := decodeData(cred.ClientCert)
		if err != nil {
			return nil, b.buildError(cred, "invalid_client_cert", failure.Configuration("cluster %s has an undecodable client certificate", cred.ID).Wrap(err))
		}
		key := b.keys.Materialize(cred.ClientKey)
		b.log.Debugw("Resolved client key", "cluster", cred.ID, "family", key.Family, "encoding", key.Encoding, "converted", key.Converted)
		user.ClientCertificateData = certData
		user.ClientKeyData = key.PEM
	default:
		return nil, b.buildError(cred, "no_credentials", failure.Configuration("cluster %s has neither a token nor a client certificate and key", cred.ID))
	}

	userName := cred.ID + "-user"
	ctx := clientcmdapi.NewContext()
	ctx.Cluster = cred.ID
	ctx.AuthInfo = userName

	cfg := clientcmdapi.NewConfig()
	cfg.Clusters[cred.ID] = cluster
	cfg.AuthInfos[userName] = user
	cfg.Contexts[cred.ID] = ctx
	cfg.CurrentContext = cred.ID

	if err := clientcmd.Validate(*cfg); err != nil {
		return nil, b.buildError(cred, "invalid_config", failure.Configuration("kubeconfig for cluster %s is invalid", cred.ID).Wrap(err))
	}
	return cfg, nil
}

// Build writes a new kubeconfig file for cred and returns its descriptor.
// Every call creates a distinct file named after the cluster id and the
// current time plus a random suffix, so concurrent operations against the
// same cluster never share a file. The caller owns removing it.
func (b *Builder) Build(cred model.ClusterCredential) (*Descriptor, error) {
	cfg, err := b.Config(cred)
	if err != nil {
		return nil, err
	}
	content, err := clientcmd.Write(*cfg)
	if err != nil {
		return nil, b.buildError(cred, "serialize", failure.Configuration("serialize kubeconfig for cluster %s", cred.ID).Wrap(err))
	}

	pattern := fmt.Sprintf("kubeconfig_%s_%d_*.yaml", naming.ToRFC1123Label(cred.ID), b.clock.Now().UnixMilli())
	f, err := os.CreateTemp(b.dir, pattern)
	if err != nil {
		return nil, b.buildError(cred, "create_file", failure.Configuration("create kubeconfig file for cluster %s", cred.ID).Wrap(err))
	}
	path := f.Name()
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, b.buildError(cred, "write_file", failure.Configuration("write kubeconfig file for cluster %s", cred.ID).Wrap(err))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, b.buildError(cred, "write_file", failure.Configuration("close kubeconfig file for cluster %s", cred.ID).Wrap(err))
	}

	metrics.DescriptorsCreated.Inc()
	b.log.Debugw("Created kubeconfig", "cluster", cred.ID, "path", path, "auth", cred.AuthMode())
	return &Descriptor{Path: path, ClusterID: cred.ID, AuthMode: cred.AuthMode()}, nil
}

// Remove deletes the descriptor file. A file that is already gone is not an error.
func (b *Builder) Remove(d *Descriptor) error {
	if d == nil || d.Path == "" {
		return nil
	}
	if err := os.Remove(d.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		b.log.Warnw("Failed to remove kubeconfig", "cluster", d.ClusterID, "path", d.Path, "error", err)
		return fmt.Errorf("remove kubeconfig %s: %w", d.Path, err)
	}
	metrics.DescriptorsRemoved.Inc()
	b.log.Debugw("Removed kubeconfig", "cluster", d.ClusterID, "path", d.Path)
	return nil
}

// RESTConfig returns a client-go rest.Config built from the same kubeconfig
// as Build, without touching the filesystem.
func (b *Builder) RESTConfig(cred model.ClusterCredential) (*rest.Config, error) {
	cfg, err := b.Config(cred)
	if err != nil {
		return nil, err
	}
	rc, err := clientcmd.NewDefaultClientConfig(*cfg, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return nil, b.buildError(cred, "rest_config", failure.Configuration("build REST config for cluster %s", cred.ID).Wrap(err))
	}
	return rc, nil
}

func (b *Builder) buildError(cred model.ClusterCredential, reason string, err *failure.Error) error {
	metrics.DescriptorBuildErrors.WithLabelValues(cred.ID, reason).Inc()
	b.log.Warnw("Failed to build kubeconfig", "cluster", cred.ID, "reason", reason, "error", err)
	return err.WithTarget(failure.TargetCluster, cred.ID)
}

// decodeData accepts base64 text or a PEM document stored verbatim.
func decodeData(s string) ([]byte, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "-----BEGIN") {
		return []byte(trimmed), nil
	}
	return base64.StdEncoding.DecodeString(strings.Join(strings.Fields(trimmed), ""))
}
