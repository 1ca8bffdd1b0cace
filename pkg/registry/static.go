package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/telekom/k8s-chartdeploy/pkg/failure"
	"github.com/telekom/k8s-chartdeploy/pkg/model"
)

// Clusters resolves cluster credentials by id.
type Clusters interface {
	Cluster(ctx context.Context, id string) (model.ClusterCredential, error)
	ListClusters(ctx context.Context) ([]model.ClusterCredential, error)
}

// Repositories resolves chart repositories by name.
type Repositories interface {
	Repository(ctx context.Context, name string) (model.Repository, error)
	ListRepositories(ctx context.Context) ([]model.Repository, error)
}

// Static serves clusters and repositories from fixed lists.
type Static struct {
	clusters map[string]model.ClusterCredential
	repos    map[string]model.Repository
}

// NewStatic indexes clusters by ID and repositories by Name. Duplicate or
// empty keys are rejected.
func NewStatic(clusters []model.ClusterCredential, repos []model.Repository) (*Static, error) {
	s := &Static{
		clusters: make(map[string]model.ClusterCredential, len(clusters)),
		repos:    make(map[string]model.Repository, len(repos)),
	}
	for _, c := range clusters {
		if c.ID == "" {
			return nil, fmt.Errorf("cluster without id")
		}
		if _, dup := s.clusters[c.ID]; dup {
			return nil, fmt.Errorf("duplicate cluster id %q", c.ID)
		}
		s.clusters[c.ID] = c
	}
	for _, r := range repos {
		if r.Name == "" {
			return nil, fmt.Errorf("repository without name")
		}
		if _, dup := s.repos[r.Name]; dup {
			return nil, fmt.Errorf("duplicate repository name %q", r.Name)
		}
		s.repos[r.Name] = r
	}
	return s, nil
}

func (s *Static) Cluster(_ context.Context, id string) (model.ClusterCredential, error) {
	c, ok := s.clusters[id]
	if !ok {
		return model.ClusterCredential{}, failure.NotFound(failure.TargetCluster, id)
	}
	return c, nil
}

// ListClusters returns all clusters sorted by ID.
func (s *Static) ListClusters(context.Context) ([]model.ClusterCredential, error) {
	out := make([]model.ClusterCredential, 0, len(s.clusters))
	for _, c := range s.clusters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Static) Repository(_ context.Context, name string) (model.Repository, error) {
	r, ok := s.repos[name]
	if !ok {
		return model.Repository{}, failure.NotFound(failure.TargetRepository, name)
	}
	return r, nil
}

// ListRepositories returns all repositories sorted by name.
func (s *Static) ListRepositories(context.Context) ([]model.Repository, error) {
	out := make([]model.Repository, 0, len(s.repos))
	for _, r := range s.repos {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
