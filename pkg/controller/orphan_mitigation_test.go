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

package controller

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbkit/provisioner/pkg/apis/services"
)

func testInstance() *services.ServiceInstance {
	return &services.ServiceInstance{
		GUID:            testInstanceGUID,
		Name:            testInstanceName,
		SpaceGUID:       testSpaceGUID,
		ServicePlanGUID: testPlanGUID,
		Credentials:     map[string]interface{}{},
	}
}

func TestMitigateOrphanDeprovisionsWithOriginalIdentifiers(t *testing.T) {
	h := newTestHarness(t)

	err := h.controller.mitigateOrphan(testInstance())

	require.NoError(t, err)
	deprovisions := h.broker.DeprovisionRequests()
	require.Len(t, deprovisions, 1)
	assert.Equal(t, testInstanceGUID, deprovisions[0].InstanceGUID)
	assert.Equal(t, testServiceGUID, deprovisions[0].ServiceGUID)
	assert.Equal(t, testPlanGUID, deprovisions[0].PlanGUID)
}

func TestMitigateOrphanReportsBrokerFailure(t *testing.T) {
	h := newTestHarness(t)
	h.broker.RetDeprovisionErr = errors.New("broker down")

	err := h.controller.mitigateOrphan(testInstance())

	assert.Error(t, err)
}

func TestMitigateOrphanUnknownPlan(t *testing.T) {
	h := newTestHarness(t)
	instance := testInstance()
	instance.ServicePlanGUID = "no-such-plan"

	err := h.controller.mitigateOrphan(instance)

	assert.Error(t, err)
	assert.Empty(t, h.broker.DeprovisionRequests())
}

func TestMitigationWorkerRetriesUpToBudget(t *testing.T) {
	h := newTestHarness(t)
	op := &services.ServiceInstanceOperation{
		InstanceGUID: testInstanceGUID,
		Type:         services.OperationTypeCreate,
		State:        services.OperationStateFailed,
		StartedAt:    time.Now(),
	}
	require.NoError(t, h.store.SaveInstance(testInstance(), op))
	h.broker.RetDeprovisionErr = errors.New("broker down")

	h.controller.mitigationQueue.Add(testInstanceGUID)

	// The initial attempt plus OrphanMitigationMaxRetries requeues, then
	// the orphan is abandoned and the key forgotten.
	attempts := h.controller.settings.OrphanMitigationMaxRetries + 1
	for i := 0; i < attempts; i++ {
		require.True(t, h.controller.processNextMitigationItem())
	}

	assert.Len(t, h.broker.DeprovisionRequests(), attempts)
	assert.Equal(t, 0, h.controller.mitigationQueue.Len())
}

func TestMitigationWorkerDropsUnknownInstance(t *testing.T) {
	h := newTestHarness(t)
	h.controller.mitigationQueue.Add("no-such-instance")

	require.True(t, h.controller.processNextMitigationItem())

	assert.Empty(t, h.broker.DeprovisionRequests())
	assert.Equal(t, 0, h.controller.mitigationQueue.Len())
}
