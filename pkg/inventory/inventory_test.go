package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/telekom/k8s-chartdeploy/pkg/failure"
	"github.com/telekom/k8s-chartdeploy/pkg/model"
)

var cred = model.ClusterCredential{ID: "cluster-001", APIServerURL: "https://10.0.0.1:6443", Token: "t"}

func meta(name, ns, release string) metav1.ObjectMeta {
	m := metav1.ObjectMeta{Name: name, Namespace: ns}
	if release != "" {
		m.Labels = map[string]string{InstanceLabel: release}
	}
	return m
}

func clientsFor(cs kubernetes.Interface) func(model.ClusterCredential) (kubernetes.Interface, error) {
	return func(model.ClusterCredential) (kubernetes.Interface, error) { return cs, nil }
}

func TestScanListsLabelledObjects(t *testing.T) {
	cs := fake.NewSimpleClientset(
		&appsv1.Deployment{ObjectMeta: meta("my-nginx", "default", "my-nginx")},
		&appsv1.Deployment{ObjectMeta: meta("other", "default", "other")},
		&appsv1.StatefulSet{ObjectMeta: meta("my-nginx-db", "default", "my-nginx")},
		&corev1.Service{ObjectMeta: meta("my-nginx", "default", "my-nginx")},
		&corev1.ConfigMap{ObjectMeta: meta("my-nginx-config", "default", "my-nginx")},
		&corev1.Secret{ObjectMeta: meta("my-nginx-tls", "default", "my-nginx"), Data: map[string][]byte{"tls.key": []byte("secret")}},
		&corev1.ServiceAccount{ObjectMeta: meta("my-nginx", "default", "my-nginx")},
		&networkingv1.Ingress{ObjectMeta: meta("my-nginx", "web", "my-nginx")},
		&corev1.PersistentVolumeClaim{ObjectMeta: meta("unlabelled", "default", "")},
	)
	s := NewScanner(clientsFor(cs), nil, nil)

	refs, err := s.Scan(context.Background(), cred, "my-nginx", "")
	require.NoError(t, err)

	var names []string
	for _, r := range refs {
		names = append(names, r.String())
	}
	assert.Equal(t, []string{
		"ConfigMap/my-nginx-config",
		"Deployment/my-nginx",
		"Ingress/my-nginx",
		"Secret/my-nginx-tls",
		"Service/my-nginx",
		"ServiceAccount/my-nginx",
		"StatefulSet/my-nginx-db",
	}, names)
}

func TestScanScopesToNamespace(t *testing.T) {
	cs := fake.NewSimpleClientset(
		&appsv1.Deployment{ObjectMeta: meta("my-nginx", "default", "my-nginx")},
		&networkingv1.Ingress{ObjectMeta: meta("my-nginx", "web", "my-nginx")},
	)
	s := NewScanner(clientsFor(cs), nil, nil)

	refs, err := s.Scan(context.Background(), cred, "my-nginx", "web")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "Ingress", refs[0].Kind)
	assert.Equal(t, "my-nginx", refs[0].Name)
	assert.Equal(t, "web", refs[0].Namespace)
	assert.Equal(t, "Current", refs[0].Status)
}

func TestScanEmptyResult(t *testing.T) {
	s := NewScanner(clientsFor(fake.NewSimpleClientset()), nil, nil)
	refs, err := s.Scan(context.Background(), cred, "missing", "default")
	require.NoError(t, err)
	assert.NotNil(t, refs)
	assert.Empty(t, refs)
}

func TestScanSkipsForbiddenKinds(t *testing.T) {
	cs := fake.NewSimpleClientset(&corev1.Service{ObjectMeta: meta("my-nginx", "default", "my-nginx")})
	cs.PrependReactor("list", "secrets", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewForbidden(schema.GroupResource{Resource: "secrets"}, "", errors.New("rbac"))
	})
	s := NewScanner(clientsFor(cs), nil, nil)

	refs, err := s.Scan(context.Background(), cred, "my-nginx", "default")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "Service", refs[0].Kind)
}

func TestScanFailsOnAPIError(t *testing.T) {
	cs := fake.NewSimpleClientset()
	cs.PrependReactor("list", "deployments", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("connection reset by peer")
	})
	s := NewScanner(clientsFor(cs), nil, nil)

	_, err := s.Scan(context.Background(), cred, "my-nginx", "default")
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.KindConnectivity))
	assert.Contains(t, err.Error(), "Deployment")
}

func TestScanCustomKinds(t *testing.T) {
	called := false
	kinds := map[string]Lister{
		"Widget": ListerFunc(func(_ context.Context, _ kubernetes.Interface, ns string, opts metav1.ListOptions) ([]Ref, error) {
			called = true
			assert.Equal(t, InstanceLabel+"=my-nginx", opts.LabelSelector)
			return []Ref{{Kind: "Widget", Name: "w", Namespace: ns}}, nil
		}),
	}
	s := NewScanner(clientsFor(fake.NewSimpleClientset()), kinds, nil)
	assert.Equal(t, []string{"Widget"}, s.Kinds())

	refs, err := s.Scan(context.Background(), cred, "my-nginx", "apps")
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, []Ref{{Kind: "Widget", Name: "w", Namespace: "apps"}}, refs)
}

func TestScanRequiresRelease(t *testing.T) {
	s := NewScanner(clientsFor(fake.NewSimpleClientset()), nil, nil)
	_, err := s.Scan(context.Background(), cred, "", "")
	assert.True(t, failure.IsKind(err, failure.KindValidation))
}

func TestScanReportsReadiness(t *testing.T) {
	one := int32(1)
	ready := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "ready", Namespace: "default", Generation: 1, Labels: map[string]string{InstanceLabel: "my-nginx"}},
		Spec:       appsv1.DeploymentSpec{Replicas: &one},
		Status: appsv1.DeploymentStatus{
			ObservedGeneration: 1,
			Replicas:           1,
			UpdatedReplicas:    1,
			ReadyReplicas:      1,
			AvailableReplicas:  1,
			Conditions: []appsv1.DeploymentCondition{
				{Type: appsv1.DeploymentAvailable, Status: corev1.ConditionTrue},
				{Type: appsv1.DeploymentProgressing, Status: corev1.ConditionTrue, Reason: "NewReplicaSetAvailable"},
			},
		},
	}
	rolling := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "rolling", Namespace: "default", Generation: 1, Labels: map[string]string{InstanceLabel: "my-nginx"}},
		Spec:       appsv1.DeploymentSpec{Replicas: &one},
	}
	cs := fake.NewSimpleClientset(ready, rolling, &corev1.ConfigMap{ObjectMeta: meta("my-nginx-config", "default", "my-nginx")})
	s := NewScanner(clientsFor(cs), nil, nil)

	refs, err := s.Scan(context.Background(), cred, "my-nginx", "default")
	require.NoError(t, err)
	byName := map[string]Ref{}
	for _, r := range refs {
		byName[r.Name] = r
	}
	assert.Equal(t, "Current", byName["my-nginx-config"].Status)
	assert.Equal(t, "Current", byName["ready"].Status)
	assert.Equal(t, "InProgress", byName["rolling"].Status)
	assert.NotEmpty(t, byName["rolling"].Message)
	assert.False(t, AllReady(refs))

	delete(byName, "rolling")
	var readyRefs []Ref
	for _, r := range byName {
		readyRefs = append(readyRefs, r)
	}
	assert.True(t, AllReady(readyRefs))
	assert.True(t, AllReady([]Ref{{Kind: "Widget", Name: "w"}}), "refs without status do not count")
}

func TestReadinessHelpers(t *testing.T) {
	r := Readiness(corev1.SchemeGroupVersion.WithKind("ConfigMap"), &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "c"}})
	assert.True(t, r.IsReady())
	assert.False(t, r.IsFailed())
}
