package inventory

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/cli-utils/pkg/kstatus/status"
)

// ResourceReadiness is the kstatus verdict for one object.
type ResourceReadiness struct {
	Status  status.Status
	Message string
}

// IsReady returns true if the resource reached its desired state.
func (r ResourceReadiness) IsReady() bool {
	return r.Status == status.CurrentStatus
}

// IsFailed returns true if the resource is in a failed state.
func (r ResourceReadiness) IsFailed() bool {
	return r.Status == status.FailedStatus
}

// Readiness computes the kstatus of a typed object. Objects read through a
// typed client carry no TypeMeta, so gvk must be supplied.
func Readiness(gvk schema.GroupVersionKind, obj runtime.Object) ResourceReadiness {
	m, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return ResourceReadiness{Status: status.UnknownStatus, Message: fmt.Sprintf("failed to convert object: %v", err)}
	}
	u := &unstructured.Unstructured{Object: m}
	u.SetGroupVersionKind(gvk)

	result, err := status.Compute(u)
	if err != nil {
		return ResourceReadiness{Status: status.UnknownStatus, Message: fmt.Sprintf("failed to compute status: %v", err)}
	}
	return ResourceReadiness{Status: result.Status, Message: result.Message}
}

// AllReady reports whether every ref that carries a status is Current.
func AllReady(refs []Ref) bool {
	for _, r := range refs {
		if r.Status != "" && r.Status != string(status.CurrentStatus) {
			return false
		}
	}
	return true
}
