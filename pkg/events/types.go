/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package events

import (
	"time"

	"github.com/telekom/k8s-chartdeploy/pkg/model"
)

// Type identifies a deployment lifecycle transition.
type Type string

const (
	TypeQueued    Type = "deployment.queued"
	TypeRejected  Type = "deployment.rejected"
	TypeRunning   Type = "deployment.running"
	TypeSucceeded Type = "deployment.succeeded"
	TypeFailed    Type = "deployment.failed"
)

// Event is one lifecycle transition of a deployment request. TaskID is empty
// for requests rejected before they were queued.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	TaskID     string    `json:"taskId,omitempty"`
	ClusterID  string    `json:"clusterId"`
	Namespace  string    `json:"namespace,omitempty"`
	Release    string    `json:"release"`
	Repository string    `json:"repository"`
	Chart      string    `json:"chart"`
	Version    string    `json:"version,omitempty"`
	// Reason is the failure kind or rejection cause.
	Reason   string        `json:"reason,omitempty"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"durationNanos,omitempty"`
}

// ForRequest fills the request fields of a new event.
func ForRequest(t Type, taskID string, req model.DeploymentRequest) *Event {
	return &Event{
		Type:       t,
		TaskID:     taskID,
		ClusterID:  req.ClusterID,
		Namespace:  req.Namespace,
		Release:    req.ReleaseName,
		Repository: req.Repository,
		Chart:      req.Chart,
		Version:    req.Version,
	}
}
