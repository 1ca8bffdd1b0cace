// Package inventory lists the Kubernetes objects that belong to a helm
// release, found through the app.kubernetes.io/instance label, together with
// their kstatus readiness.
package inventory

import (
	"context"
	"sort"

	"go.uber.org/zap"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes"

	"github.com/telekom/k8s-chartdeploy/pkg/cluster"
	"github.com/telekom/k8s-chartdeploy/pkg/failure"
	"github.com/telekom/k8s-chartdeploy/pkg/model"
)

// InstanceLabel is set by helm charts following the recommended labels.
const InstanceLabel = "app.kubernetes.io/instance"

// Ref names one object. Status and Message carry its readiness when the
// lister computed it.
type Ref struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (r Ref) String() string { return r.Kind + "/" + r.Name }

// Lister lists the objects of one kind matching a label selector.
type Lister interface {
	List(ctx context.Context, cs kubernetes.Interface, namespace string, opts metav1.ListOptions) ([]Ref, error)
}

// ListerFunc adapts a function to Lister.
type ListerFunc func(ctx context.Context, cs kubernetes.Interface, namespace string, opts metav1.ListOptions) ([]Ref, error)

func (f ListerFunc) List(ctx context.Context, cs kubernetes.Interface, namespace string, opts metav1.ListOptions) ([]Ref, error) {
	return f(ctx, cs, namespace, opts)
}

type object interface {
	metav1.Object
	runtime.Object
}

func refs[T any](gvk schema.GroupVersionKind, items []T, obj func(*T) object) []Ref {
	out := make([]Ref, 0, len(items))
	for i := range items {
		o := obj(&items[i])
		st := Readiness(gvk, o)
		out = append(out, Ref{Kind: gvk.Kind, Name: o.GetName(), Namespace: o.GetNamespace(), Status: string(st.Status), Message: st.Message})
	}
	return out
}

// DefaultKinds is the set of kinds scanned when a Scanner is built without
// an explicit registry. Secrets are listed by name only.
func DefaultKinds() map[string]Lister {
	return map[string]Lister{
		"Deployment": ListerFunc(func(ctx context.Context, cs kubernetes.Interface, ns string, opts metav1.ListOptions) ([]Ref, error) {
			l, err := cs.AppsV1().Deployments(ns).List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return refs(appsv1.SchemeGroupVersion.WithKind("Deployment"), l.Items, func(o *appsv1.Deployment) object { return o }), nil
		}),
		"StatefulSet": ListerFunc(func(ctx context.Context, cs kubernetes.Interface, ns string, opts metav1.ListOptions) ([]Ref, error) {
			l, err := cs.AppsV1().StatefulSets(ns).List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return refs(appsv1.SchemeGroupVersion.WithKind("StatefulSet"), l.Items, func(o *appsv1.StatefulSet) object { return o }), nil
		}),
		"DaemonSet": ListerFunc(func(ctx context.Context, cs kubernetes.Interface, ns string, opts metav1.ListOptions) ([]Ref, error) {
			l, err := cs.AppsV1().DaemonSets(ns).List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return refs(appsv1.SchemeGroupVersion.WithKind("DaemonSet"), l.Items, func(o *appsv1.DaemonSet) object { return o }), nil
		}),
		"Service": ListerFunc(func(ctx context.Context, cs kubernetes.Interface, ns string, opts metav1.ListOptions) ([]Ref, error) {
			l, err := cs.CoreV1().Services(ns).List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return refs(corev1.SchemeGroupVersion.WithKind("Service"), l.Items, func(o *corev1.Service) object { return o }), nil
		}),
		"ConfigMap": ListerFunc(func(ctx context.Context, cs kubernetes.Interface, ns string, opts metav1.ListOptions) ([]Ref, error) {
			l, err := cs.CoreV1().ConfigMaps(ns).List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return refs(corev1.SchemeGroupVersion.WithKind("ConfigMap"), l.Items, func(o *corev1.ConfigMap) object { return o }), nil
		}),
		"Secret": ListerFunc(func(ctx context.Context, cs kubernetes.Interface, ns string, opts metav1.ListOptions) ([]Ref, error) {
			l, err := cs.CoreV1().Secrets(ns).List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return refs(corev1.SchemeGroupVersion.WithKind("Secret"), l.Items, func(o *corev1.Secret) object { return o }), nil
		}),
		"PersistentVolumeClaim": ListerFunc(func(ctx context.Context, cs kubernetes.Interface, ns string, opts metav1.ListOptions) ([]Ref, error) {
			l, err := cs.CoreV1().PersistentVolumeClaims(ns).List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return refs(corev1.SchemeGroupVersion.WithKind("PersistentVolumeClaim"), l.Items, func(o *corev1.PersistentVolumeClaim) object { return o }), nil
		}),
		"ServiceAccount": ListerFunc(func(ctx context.Context, cs kubernetes.Interface, ns string, opts metav1.ListOptions) ([]Ref, error) {
			l, err := cs.CoreV1().ServiceAccounts(ns).List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return refs(corev1.SchemeGroupVersion.WithKind("ServiceAccount"), l.Items, func(o *corev1.ServiceAccount) object { return o }), nil
		}),
		"Ingress": ListerFunc(func(ctx context.Context, cs kubernetes.Interface, ns string, opts metav1.ListOptions) ([]Ref, error) {
			l, err := cs.NetworkingV1().Ingresses(ns).List(ctx, opts)
			if err != nil {
				return nil, err
			}
			return refs(networkingv1.SchemeGroupVersion.WithKind("Ingress"), l.Items, func(o *networkingv1.Ingress) object { return o }), nil
		}),
	}
}

// Scanner queries every registered kind on a cluster.
type Scanner struct {
	clients cluster.ClientsetFunc
	kinds   map[string]Lister
	log     *zap.SugaredLogger
}

// NewScanner uses DefaultKinds when kinds is nil.
func NewScanner(clients cluster.ClientsetFunc, kinds map[string]Lister, log *zap.SugaredLogger) *Scanner {
	if kinds == nil {
		kinds = DefaultKinds()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scanner{clients: clients, kinds: kinds, log: log.Named("inventory")}
}

// Kinds returns the registered kind names, sorted.
func (s *Scanner) Kinds() []string {
	names := make([]string, 0, len(s.kinds))
	for k := range s.kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Scan returns the objects labelled with release in namespace, or in all
// namespaces when namespace is empty. Kinds the credential may not list are
// skipped; any other API error fails the scan.
func (s *Scanner) Scan(ctx context.Context, cred model.ClusterCredential, release, namespace string) ([]Ref, error) {
	if release == "" {
		return nil, failure.Validation(failure.ReasonRequired, "releaseName", "", "releaseName is required")
	}
	cs, err := s.clients(cred)
	if err != nil {
		return nil, err
	}

	opts := metav1.ListOptions{
		LabelSelector: labels.SelectorFromSet(labels.Set{InstanceLabel: release}).String(),
	}
	var out []Ref
	for _, kind := range s.Kinds() {
		found, err := s.kinds[kind].List(ctx, cs, namespace, opts)
		if err != nil {
			if apierrors.IsForbidden(err) || apierrors.IsNotFound(err) {
				s.log.Debugw("Skipping kind", "kind", kind, "cluster", cred.ID, "error", err)
				continue
			}
			return nil, failure.Connectivity(failure.TargetCluster, cred.ID,
				"cannot list %s objects on cluster %s", kind, cred.ID).Wrap(err)
		}
		out = append(out, found...)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Name < out[j].Name
	})
	if out == nil {
		out = []Ref{}
	}
	s.log.Debugw("Scanned release resources", "release", release, "cluster", cred.ID, "namespace", namespace, "count", len(out))
	return out, nil
}
