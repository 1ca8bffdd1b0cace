// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/utils/clock"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/telekom/k8s-chartdeploy/pkg/failure"
	"github.com/telekom/k8s-chartdeploy/pkg/metrics"
	"github.com/telekom/k8s-chartdeploy/pkg/model"
)

// ClusterSecretLabel marks a Secret as a cluster credential.
const ClusterSecretLabel = "chartdeploy.telekom.com/cluster"

// Data keys read from a cluster Secret. server is required; ca, clientCert and
// clientKey are stored as raw bytes and re-encoded to base64 for the model.
const (
	KeyServer      = "server"
	KeyCA          = "ca"
	KeyToken       = "token"
	KeyClientCert  = "clientCert"
	KeyClientKey   = "clientKey"
	KeyStatus      = "status"
	KeyDescription = "description"
	KeyVersion     = "version"
	KeyType        = "type"
	KeyProvider    = "provider"
)

// DefaultCacheTTL is how long a resolved Secret is served without re-reading it.
const DefaultCacheTTL = time.Minute

type cachedCredential struct {
	cred      model.ClusterCredential
	expiresAt time.Time
}

// SecretStore reads cluster credentials from labelled Secrets in one
// namespace. The Secret name is the cluster id.
type SecretStore struct {
	k8s       ctrlclient.Client
	namespace string
	ttl       time.Duration
	clock     clock.PassiveClock
	log       *zap.SugaredLogger

	mu    sync.RWMutex
	cache map[string]cachedCredential
}

func NewSecretStore(c ctrlclient.Client, namespace string, ttl time.Duration, clk clock.PassiveClock, log *zap.SugaredLogger) *SecretStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SecretStore{
		k8s:       c,
		namespace: namespace,
		ttl:       ttl,
		clock:     clk,
		log:       log.Named("secret-registry"),
		cache:     map[string]cachedCredential{},
	}
}

// Cluster returns the credential stored in Secret <namespace>/<id>. Secrets
// without the cluster label are treated as absent.
func (s *SecretStore) Cluster(ctx context.Context, id string) (model.ClusterCredential, error) {
	s.mu.RLock()
	entry, ok := s.cache[id]
	s.mu.RUnlock()
	if ok && s.clock.Now().Before(entry.expiresAt) {
		metrics.RegistryCacheHits.WithLabelValues(id).Inc()
		return entry.cred, nil
	}
	metrics.RegistryCacheMisses.WithLabelValues(id).Inc()

	var secret corev1.Secret
	if err := s.k8s.Get(ctx, ctrlclient.ObjectKey{Namespace: s.namespace, Name: id}, &secret); err != nil {
		if apierrors.IsNotFound(err) {
			s.Invalidate(id)
			return model.ClusterCredential{}, failure.NotFound(failure.TargetCluster, id)
		}
		return model.ClusterCredential{}, fmt.Errorf("get cluster secret %s/%s: %w", s.namespace, id, err)
	}
	if secret.Labels[ClusterSecretLabel] != "true" {
		s.log.Debugw("Secret is not labelled as a cluster credential", "secret", id, "namespace", s.namespace)
		return model.ClusterCredential{}, failure.NotFound(failure.TargetCluster, id)
	}

	cred, err := CredentialFromSecret(&secret)
	if err != nil {
		return model.ClusterCredential{}, err
	}
	s.store(cred)
	return cred, nil
}

// ListClusters lists every labelled Secret and refreshes the cache.
// Malformed Secrets are skipped with a warning.
func (s *SecretStore) ListClusters(ctx context.Context) ([]model.ClusterCredential, error) {
	var list corev1.SecretList
	if err := s.k8s.List(ctx, &list, ctrlclient.InNamespace(s.namespace), ctrlclient.MatchingLabels{ClusterSecretLabel: "true"}); err != nil {
		return nil, fmt.Errorf("list cluster secrets in %s: %w", s.namespace, err)
	}
	out := make([]model.ClusterCredential, 0, len(list.Items))
	for i := range list.Items {
		cred, err := CredentialFromSecret(&list.Items[i])
		if err != nil {
			s.log.Warnw("Skipping malformed cluster secret", "secret", list.Items[i].Name, "error", err)
			continue
		}
		s.store(cred)
		out = append(out, cred)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Invalidate drops a cached credential.
func (s *SecretStore) Invalidate(id string) {
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
}

func (s *SecretStore) store(cred model.ClusterCredential) {
	s.mu.Lock()
	s.cache[cred.ID] = cachedCredential{cred: cred, expiresAt: s.clock.Now().Add(s.ttl)}
	s.mu.Unlock()
}

// CredentialFromSecret maps Secret data to a ClusterCredential. A missing
// status is reported as UNKNOWN.
func CredentialFromSecret(secret *corev1.Secret) (model.ClusterCredential, error) {
	str := func(k string) string { return strings.TrimSpace(string(secret.Data[k])) }
	b64 := func(k string) string {
		if len(secret.Data[k]) == 0 {
			return ""
		}
		return base64.StdEncoding.EncodeToString(secret.Data[k])
	}

	server := str(KeyServer)
	if server == "" {
		return model.ClusterCredential{}, failure.Configuration("cluster secret %s has no %q key", secret.Name, KeyServer).
			WithTarget(failure.TargetCluster, secret.Name)
	}
	status := model.ClusterStatus(strings.ToUpper(str(KeyStatus)))
	if status == "" {
		status = model.ClusterUnknown
	}
	return model.ClusterCredential{
		ID:           secret.Name,
		Description:  str(KeyDescription),
		Status:       status,
		Version:      str(KeyVersion),
		APIServerURL: server,
		ServerCA:     b64(KeyCA),
		ClientCert:   b64(KeyClientCert),
		ClientKey:    b64(KeyClientKey),
		Token:        str(KeyToken),
		Type:         str(KeyType),
		Provider:     str(KeyProvider),
	}, nil
}
