/*
Copyright 2019 The Provisioner Authors.

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

// Package audit records service-instance lifecycle events. Recording is a
// collaborator of the provisioning controller: the controller decides when
// an event is emitted, this package decides how it is captured.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog"

	"github.com/osbkit/provisioner/pkg/apis/services"
)

// ActionCreate is the audit action for a completed provisioning.
const ActionCreate = "audit.service_instance.create"

// Event is one recorded audit event. RequestAttrs is a snapshot of the
// original request attributes, captured at emission time.
type Event struct {
	GUID         string                 `json:"guid"`
	Action       string                 `json:"action"`
	InstanceGUID string                 `json:"instance_guid"`
	InstanceName string                 `json:"instance_name"`
	SpaceGUID    string                 `json:"space_guid"`
	RequestAttrs map[string]interface{} `json:"request_attrs,omitempty"`
	RecordedAt   time.Time              `json:"recorded_at"`
}

// EventRecorder records service instance events.
type EventRecorder interface {
	RecordServiceInstanceEvent(action string, instance *services.ServiceInstance, requestAttrs map[string]interface{})
}

// NewRecorder returns an EventRecorder that keeps events in memory and logs
// each one.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Recorder is the in-memory EventRecorder. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

var _ EventRecorder = &Recorder{}

// RecordServiceInstanceEvent implements EventRecorder.
func (r *Recorder) RecordServiceInstanceEvent(action string, instance *services.ServiceInstance, requestAttrs map[string]interface{}) {
	event := Event{
		GUID:         uuid.New().String(),
		Action:       action,
		InstanceGUID: instance.GUID,
		InstanceName: instance.Name,
		SpaceGUID:    instance.SpaceGUID,
		RequestAttrs: requestAttrs,
		RecordedAt:   time.Now(),
	}

	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()

	klog.V(4).Infof("Recorded %s for instance %q", action, instance.GUID)
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event{}, r.events...)
}

// EventsFor returns the recorded events for one instance.
func (r *Recorder) EventsFor(instanceGUID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.InstanceGUID == instanceGUID {
			out = append(out, e)
		}
	}
	return out
}
