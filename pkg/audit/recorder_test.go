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

package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbkit/provisioner/pkg/apis/services"
)

func TestRecordServiceInstanceEvent(t *testing.T) {
	recorder := NewRecorder()
	instance := &services.ServiceInstance{
		GUID:      "instance-guid",
		Name:      "my-db",
		SpaceGUID: "space-guid",
	}
	attrs := map[string]interface{}{"name": "my-db"}

	recorder.RecordServiceInstanceEvent(ActionCreate, instance, attrs)

	events := recorder.Events()
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].GUID)
	assert.Equal(t, ActionCreate, events[0].Action)
	assert.Equal(t, "instance-guid", events[0].InstanceGUID)
	assert.Equal(t, "my-db", events[0].InstanceName)
	assert.Equal(t, "space-guid", events[0].SpaceGUID)
	assert.Equal(t, attrs, events[0].RequestAttrs)
	assert.False(t, events[0].RecordedAt.IsZero())
}

func TestEventsForFiltersByInstance(t *testing.T) {
	recorder := NewRecorder()
	recorder.RecordServiceInstanceEvent(ActionCreate, &services.ServiceInstance{GUID: "guid-1"}, nil)
	recorder.RecordServiceInstanceEvent(ActionCreate, &services.ServiceInstance{GUID: "guid-2"}, nil)

	assert.Len(t, recorder.EventsFor("guid-1"), 1)
	assert.Len(t, recorder.EventsFor("guid-2"), 1)
	assert.Empty(t, recorder.EventsFor("guid-3"))
}
