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
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbkit/provisioner/pkg/apis/services"
	"github.com/osbkit/provisioner/pkg/audit"
	"github.com/osbkit/provisioner/pkg/brokerapi"
	"github.com/osbkit/provisioner/pkg/brokerapi/fake"
	"github.com/osbkit/provisioner/pkg/storage"
)

const (
	testBrokerGUID   = "broker-guid"
	testServiceGUID  = "service-guid"
	testPlanGUID     = "plan-guid"
	testSpaceGUID    = "space-guid"
	testOrgGUID      = "org-guid"
	testInstanceGUID = "instance-guid"
	testInstanceName = "my-db"
)

type fakeRegistrar struct {
	mu    sync.Mutex
	err   error
	calls []*services.DashboardClient
}

func (f *fakeRegistrar) Register(dc *services.DashboardClient, instance *services.ServiceInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dc)
	return f.err
}

func (f *fakeRegistrar) registrations() []*services.DashboardClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*services.DashboardClient{}, f.calls...)
}

// failingStorage fails SaveInstance while delegating everything else.
type failingStorage struct {
	storage.Storage
	saveErr error
}

func (f *failingStorage) SaveInstance(instance *services.ServiceInstance, op *services.ServiceInstanceOperation) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Storage.SaveInstance(instance, op)
}

type testHarness struct {
	controller *controller
	store      *storage.InMemoryStorage
	broker     *fake.Client
	registrar  *fakeRegistrar
	recorder   *audit.Recorder
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	return newTestHarnessWithSettings(t, DefaultSettings())
}

func newTestHarnessWithSettings(t *testing.T, settings Settings) *testHarness {
	t.Helper()

	store := storage.CreateInMemoryStorage()
	seedCatalog(store)

	brokerClient := &fake.Client{}
	manager := NewBrokerClientManager(func(b *services.ServiceBroker) brokerapi.BrokerClient {
		return brokerClient
	})
	reg := &fakeRegistrar{}
	recorder := audit.NewRecorder()

	c := NewController(store, manager, reg, recorder, settings).(*controller)
	return &testHarness{
		controller: c,
		store:      store,
		broker:     brokerClient,
		registrar:  reg,
		recorder:   recorder,
	}
}

func seedCatalog(store *storage.InMemoryStorage) {
	store.AddBroker(&services.ServiceBroker{
		GUID: testBrokerGUID, Name: "test-broker", URL: "http://broker.example.com",
	})
	store.AddService(&services.Service{
		GUID: testServiceGUID, Label: "test-db", BrokerGUID: testBrokerGUID,
	})
	store.AddPlan(&services.ServicePlan{
		GUID: testPlanGUID, Name: "small", ServiceGUID: testServiceGUID,
	})
	store.AddSpace(&services.Space{
		GUID: testSpaceGUID, Name: "dev", OrganizationGUID: testOrgGUID,
	})
}

func testProvisionRequest() *ProvisionRequest {
	return &ProvisionRequest{
		InstanceGUID:      testInstanceGUID,
		Name:              testInstanceName,
		SpaceGUID:         testSpaceGUID,
		PlanGUID:          testPlanGUID,
		Parameters:        map[string]interface{}{"size": "10GB"},
		AcceptsIncomplete: true,
		RequestAttrs:      map[string]interface{}{"name": testInstanceName},
	}
}

func TestProvisionSynchronousSuccess(t *testing.T) {
	h := newTestHarness(t)
	h.broker.RetProvision = &brokerapi.ProvisionResult{
		Credentials:  map[string]interface{}{"uri": "mysql://localhost"},
		DashboardURL: "http://dashboard.example.com",
	}

	resp, err := h.controller.Provision(testProvisionRequest())

	require.NoError(t, err)
	assert.False(t, resp.Async)
	assert.NoError(t, resp.RegistrationErr)

	instance, err := h.store.Instance(testInstanceGUID)
	require.NoError(t, err)
	assert.Equal(t, testInstanceName, instance.Name)
	assert.Equal(t, map[string]interface{}{"uri": "mysql://localhost"}, instance.Credentials)
	assert.Equal(t, "http://dashboard.example.com", instance.DashboardURL)

	op, err := h.store.Operation(testInstanceGUID)
	require.NoError(t, err)
	assert.Equal(t, services.OperationTypeCreate, op.Type)
	assert.Equal(t, services.OperationStateSucceeded, op.State)

	events := h.recorder.EventsFor(testInstanceGUID)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionCreate, events[0].Action)
	assert.Equal(t, map[string]interface{}{"name": testInstanceName}, events[0].RequestAttrs)

	assert.Empty(t, h.registrar.registrations())
}

func TestProvisionSendsCatalogIdentifiersToBroker(t *testing.T) {
	h := newTestHarness(t)
	h.broker.RetProvision = &brokerapi.ProvisionResult{Credentials: map[string]interface{}{}}

	_, err := h.controller.Provision(testProvisionRequest())

	require.NoError(t, err)
	requests := h.broker.ProvisionRequests()
	require.Len(t, requests, 1)
	assert.Equal(t, testInstanceGUID, requests[0].InstanceGUID)
	assert.Equal(t, testServiceGUID, requests[0].ServiceGUID)
	assert.Equal(t, testPlanGUID, requests[0].PlanGUID)
	assert.Equal(t, testOrgGUID, requests[0].OrganizationGUID)
	assert.Equal(t, testSpaceGUID, requests[0].SpaceGUID)
	assert.Equal(t, map[string]interface{}{"size": "10GB"}, requests[0].Parameters)
	assert.True(t, requests[0].AcceptsIncomplete)
}

func TestProvisionGeneratesInstanceGUIDWhenMissing(t *testing.T) {
	h := newTestHarness(t)
	h.broker.RetProvision = &brokerapi.ProvisionResult{Credentials: map[string]interface{}{}}
	req := testProvisionRequest()
	req.InstanceGUID = ""

	resp, err := h.controller.Provision(req)

	require.NoError(t, err)
	assert.NotEmpty(t, resp.Instance.GUID)
	_, err = h.store.Instance(resp.Instance.GUID)
	assert.NoError(t, err)
}

func TestProvisionDefaultsNilCredentialsToEmptyMap(t *testing.T) {
	h := newTestHarness(t)
	h.broker.RetProvision = &brokerapi.ProvisionResult{}

	resp, err := h.controller.Provision(testProvisionRequest())

	require.NoError(t, err)
	require.NotNil(t, resp.Instance.Credentials)
	assert.Empty(t, resp.Instance.Credentials)
}

func TestProvisionRegistersDashboardClient(t *testing.T) {
	h := newTestHarness(t)
	h.broker.RetProvision = &brokerapi.ProvisionResult{
		Credentials: map[string]interface{}{},
		DashboardClient: &services.DashboardClient{
			ID: "sso-id", Secret: "sso-secret", RedirectURI: "http://cb",
		},
	}

	resp, err := h.controller.Provision(testProvisionRequest())

	require.NoError(t, err)
	assert.NoError(t, resp.RegistrationErr)
	registrations := h.registrar.registrations()
	require.Len(t, registrations, 1)
	assert.Equal(t, "sso-id", registrations[0].ID)
}

func TestProvisionRegistrationFailureIsNotFatal(t *testing.T) {
	h := newTestHarness(t)
	h.registrar.err = errors.New("identity provider down")
	h.broker.RetProvision = &brokerapi.ProvisionResult{
		Credentials:     map[string]interface{}{"uri": "mysql://localhost"},
		DashboardClient: &services.DashboardClient{ID: "sso-id"},
	}

	resp, err := h.controller.Provision(testProvisionRequest())

	require.NoError(t, err)
	assert.Error(t, resp.RegistrationErr)

	// The instance is fully provisioned and audited despite the failed
	// dashboard registration.
	instance, err := h.store.Instance(testInstanceGUID)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"uri": "mysql://localhost"}, instance.Credentials)
	assert.Len(t, h.recorder.EventsFor(testInstanceGUID), 1)
}

func TestProvisionBrokerFailureLeavesNoLocalState(t *testing.T) {
	h := newTestHarness(t)
	h.broker.RetProvisionErr = &brokerapi.ProtocolError{Op: "provision", StatusCode: 500, Message: "boom"}

	_, err := h.controller.Provision(testProvisionRequest())

	require.Error(t, err)
	_, err = h.store.Instance(testInstanceGUID)
	assert.Error(t, err)
	assert.Empty(t, h.recorder.Events())
	assert.Empty(t, h.broker.DeprovisionRequests())
}

func TestProvisionRejectsConcurrentOperation(t *testing.T) {
	h := newTestHarness(t)
	inProgress := &services.ServiceInstanceOperation{
		InstanceGUID: testInstanceGUID,
		Type:         services.OperationTypeCreate,
		State:        services.OperationStateInProgress,
		StartedAt:    time.Now(),
	}
	require.NoError(t, h.store.SaveInstance(&services.ServiceInstance{
		GUID: testInstanceGUID, Name: testInstanceName,
		SpaceGUID: testSpaceGUID, ServicePlanGUID: testPlanGUID,
		Credentials: map[string]interface{}{},
	}, inProgress))

	_, err := h.controller.Provision(testProvisionRequest())

	assert.Equal(t, storage.ErrOperationInProgress, err)
	assert.Empty(t, h.broker.ProvisionRequests())
}

func TestProvisionUnknownPlan(t *testing.T) {
	h := newTestHarness(t)
	req := testProvisionRequest()
	req.PlanGUID = "no-such-plan"

	_, err := h.controller.Provision(req)

	require.Error(t, err)
	assert.Equal(t, storage.ErrNotFound, errors.Cause(err))
	assert.Empty(t, h.broker.ProvisionRequests())
}

func TestProvisionSaveFailureTriggersOrphanMitigation(t *testing.T) {
	h := newTestHarness(t)
	h.controller.store = &failingStorage{Storage: h.store, saveErr: errors.New("db down")}
	h.broker.RetProvision = &brokerapi.ProvisionResult{Credentials: map[string]interface{}{}}

	_, err := h.controller.Provision(testProvisionRequest())

	require.Error(t, err)
	persistenceErr, ok := IsLocalPersistenceError(err)
	require.True(t, ok)
	assert.Equal(t, testInstanceGUID, persistenceErr.InstanceGUID)
	assert.True(t, persistenceErr.MitigationAttempted)

	// The broker resource was deprovisioned with the identifiers used to
	// create it.
	deprovisions := h.broker.DeprovisionRequests()
	require.Len(t, deprovisions, 1)
	assert.Equal(t, testInstanceGUID, deprovisions[0].InstanceGUID)
	assert.Equal(t, testServiceGUID, deprovisions[0].ServiceGUID)
	assert.Equal(t, testPlanGUID, deprovisions[0].PlanGUID)

	assert.Empty(t, h.recorder.Events())
}

func TestProvisionSaveFailureReportsFailedMitigation(t *testing.T) {
	h := newTestHarness(t)
	h.controller.store = &failingStorage{Storage: h.store, saveErr: errors.New("db down")}
	h.broker.RetProvision = &brokerapi.ProvisionResult{Credentials: map[string]interface{}{}}
	h.broker.RetDeprovisionErr = errors.New("broker also down")

	_, err := h.controller.Provision(testProvisionRequest())

	require.Error(t, err)
	persistenceErr, ok := IsLocalPersistenceError(err)
	require.True(t, ok)
	assert.False(t, persistenceErr.MitigationAttempted)
}

func TestProvisionAsynchronousAccepted(t *testing.T) {
	h := newTestHarness(t)
	h.broker.RetProvision = &brokerapi.ProvisionResult{
		Async:        true,
		OperationKey: "task-10",
		Description:  "provisioning in the background",
		Credentials:  map[string]interface{}{"uri": "mysql://pending"},
		DashboardClient: &services.DashboardClient{
			ID: "sso-id", Secret: "sso-secret", RedirectURI: "http://cb",
		},
	}

	resp, err := h.controller.Provision(testProvisionRequest())

	require.NoError(t, err)
	assert.True(t, resp.Async)

	op, err := h.store.Operation(testInstanceGUID)
	require.NoError(t, err)
	assert.Equal(t, services.OperationStateInProgress, op.State)
	assert.Equal(t, "task-10", op.BrokerOperationKey)
	assert.Equal(t, "provisioning in the background", op.Description)
	assert.Equal(t, map[string]interface{}{"uri": "mysql://pending"}, op.PendingCredentials)
	require.NotNil(t, op.PendingDashboardClient)
	assert.Equal(t, "sso-id", op.PendingDashboardClient.ID)
	assert.Equal(t, map[string]interface{}{"name": testInstanceName}, op.RequestAttrs)

	// The instance record exists but carries nothing from the broker yet.
	instance, err := h.store.Instance(testInstanceGUID)
	require.NoError(t, err)
	assert.Empty(t, instance.Credentials)
	assert.Empty(t, instance.DashboardURL)

	// Registration and auditing wait for the operation to succeed.
	assert.Empty(t, h.registrar.registrations())
	assert.Empty(t, h.recorder.Events())
}

func TestProvisionAsynchronousSchedulesPoll(t *testing.T) {
	settings := DefaultSettings()
	settings.PollingInitialInterval = time.Millisecond
	h := newTestHarnessWithSettings(t, settings)
	h.broker.RetProvision = &brokerapi.ProvisionResult{
		Async:        true,
		OperationKey: "task-10",
	}

	_, err := h.controller.Provision(testProvisionRequest())
	require.NoError(t, err)

	// The enqueued key becomes visible once the rate-limit delay elapses.
	deadline := time.Now().Add(5 * time.Second)
	for h.controller.instancePollingQueue.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, h.controller.instancePollingQueue.Len())

	key, quit := h.controller.instancePollingQueue.Get()
	require.False(t, quit)
	assert.Equal(t, testInstanceGUID, key)
}
