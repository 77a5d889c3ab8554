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
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog"

	"github.com/osbkit/provisioner/pkg/apis/services"
	"github.com/osbkit/provisioner/pkg/audit"
	"github.com/osbkit/provisioner/pkg/brokerapi"
	"github.com/osbkit/provisioner/pkg/metrics"
	"github.com/osbkit/provisioner/pkg/pretty"
	"github.com/osbkit/provisioner/pkg/storage"
)

const (
	successProvisionReason       = "ProvisionedSuccessfully"
	successProvisionMessage      = "The instance was provisioned successfully"
	asyncProvisioningReason      = "Provisioning"
	asyncProvisioningMessage     = "The instance is being provisioned asynchronously"
	errorProvisionCallFailed     = "ProvisionCallFailed"
	errorPersistFailedReason     = "PersistFailed"
	errorOperationInProgress     = "OperationInProgress"
	errorDashboardRegistration   = "DashboardClientRegistrationFailed"
	provisionOutcomeCompleted    = "completed"
	provisionOutcomeAccepted     = "accepted"
	provisionOutcomeFailed       = "failed"
	registrationOutcomeSucceeded = "succeeded"
	registrationOutcomeFailed    = "failed"
)

// ProvisionRequest is a caller's request to provision a new instance.
// RequestAttrs is an opaque snapshot of the original request, recorded on
// the creation audit event.
type ProvisionRequest struct {
	InstanceGUID      string
	Name              string
	SpaceGUID         string
	PlanGUID          string
	Parameters        map[string]interface{}
	AcceptsIncomplete bool
	RequestAttrs      map[string]interface{}
}

// ProvisionResponse reports the outcome of an accepted provision request.
// When Async is true the instance record exists but carries no credentials
// yet. RegistrationErr reports a failed dashboard SSO registration; it is a
// partial-success condition, the instance itself is usable.
type ProvisionResponse struct {
	Instance        *services.ServiceInstance
	Operation       *services.ServiceInstanceOperation
	Async           bool
	RegistrationErr error
}

// Provision implements Controller. The flow is strictly ordered: resolve the
// catalog, reject concurrent operations, call the broker, then persist.
// Nothing is written locally before the broker call, so a broker rejection
// leaves no local state behind.
func (c *controller) Provision(req *ProvisionRequest) (*ProvisionResponse, error) {
	if req.InstanceGUID == "" {
		req.InstanceGUID = uuid.New().String()
	}
	pcb := pretty.NewContextBuilder(pretty.ServiceInstance, req.Name, req.InstanceGUID)

	space, err := c.store.Space(req.SpaceGUID)
	if err != nil {
		return nil, errors.Wrap(err, pcb.Message("failed to resolve space"))
	}
	plan, err := c.store.Plan(req.PlanGUID)
	if err != nil {
		return nil, errors.Wrap(err, pcb.Message("failed to resolve plan"))
	}
	svc, err := c.store.Service(plan.ServiceGUID)
	if err != nil {
		return nil, errors.Wrap(err, pcb.Message("failed to resolve service"))
	}
	broker, err := c.store.Broker(svc.BrokerGUID)
	if err != nil {
		return nil, errors.Wrap(err, pcb.Message("failed to resolve broker"))
	}

	if existing, err := c.store.Operation(req.InstanceGUID); err == nil && existing.InProgress() {
		klog.V(4).Info(pcb.Messagef("%s: rejecting provision, an operation is already in progress", errorOperationInProgress))
		return nil, storage.ErrOperationInProgress
	}

	instance := &services.ServiceInstance{
		GUID:            req.InstanceGUID,
		Name:            req.Name,
		SpaceGUID:       space.GUID,
		ServicePlanGUID: plan.GUID,
		Credentials:     map[string]interface{}{},
		Parameters:      req.Parameters,
		CreatedAt:       time.Now(),
	}

	brokerClient := c.brokerClientManager.ClientForBroker(broker)
	result, err := brokerClient.Provision(&brokerapi.ProvisionRequest{
		InstanceGUID:      instance.GUID,
		ServiceGUID:       svc.GUID,
		PlanGUID:          plan.GUID,
		OrganizationGUID:  space.OrganizationGUID,
		SpaceGUID:         space.GUID,
		Parameters:        req.Parameters,
		AcceptsIncomplete: req.AcceptsIncomplete,
	})
	if err != nil {
		metrics.ProvisionTotal.WithLabelValues(provisionOutcomeFailed).Inc()
		klog.Error(pcb.Messagef("%s: broker %q returned an error: %v", errorProvisionCallFailed, broker.Name, err))
		return nil, err
	}

	if result.Async {
		return c.processProvisionAsyncResponse(pcb, instance, result, req.RequestAttrs)
	}
	return c.processProvisionSuccess(pcb, instance, result, req.RequestAttrs)
}

// processProvisionSuccess handles a synchronous 200/201 from the broker: the
// resource exists, so from here on every failure path must either persist
// the instance or deprovision the orphan.
func (c *controller) processProvisionSuccess(
	pcb *pretty.ContextBuilder,
	instance *services.ServiceInstance,
	result *brokerapi.ProvisionResult,
	requestAttrs map[string]interface{},
) (*ProvisionResponse, error) {
	instance.Credentials = result.Credentials
	if instance.Credentials == nil {
		instance.Credentials = map[string]interface{}{}
	}
	instance.DashboardURL = result.DashboardURL

	now := time.Now()
	op := &services.ServiceInstanceOperation{
		InstanceGUID: instance.GUID,
		Type:         services.OperationTypeCreate,
		State:        services.OperationStateSucceeded,
		Description:  successProvisionMessage,
		StartedAt:    now,
		UpdatedAt:    now,
	}

	if err := c.store.SaveInstance(instance, op); err != nil {
		klog.Error(pcb.Messagef("%s: failed to save instance after broker success: %v", errorPersistFailedReason, err))
		mitigated := c.mitigateOrphan(instance) == nil
		return nil, &LocalPersistenceError{
			InstanceGUID:        instance.GUID,
			MitigationAttempted: mitigated,
			Err:                 err,
		}
	}
	metrics.ProvisionTotal.WithLabelValues(provisionOutcomeCompleted).Inc()

	response := &ProvisionResponse{Instance: instance, Operation: op}

	if result.DashboardClient != nil {
		if err := c.registrar.Register(result.DashboardClient, instance); err != nil {
			metrics.DashboardRegistrationTotal.WithLabelValues(registrationOutcomeFailed).Inc()
			klog.Error(pcb.Messagef("%s: %v", errorDashboardRegistration, err))
			response.RegistrationErr = err
		} else {
			metrics.DashboardRegistrationTotal.WithLabelValues(registrationOutcomeSucceeded).Inc()
		}
	}

	c.recorder.RecordServiceInstanceEvent(audit.ActionCreate, instance, requestAttrs)
	klog.V(4).Info(pcb.Messagef("%s: %s", successProvisionReason, successProvisionMessage))
	return response, nil
}

// processProvisionAsyncResponse handles a 202 from the broker. The broker's
// response data is captured on the operation, applied only if the operation
// eventually succeeds. No audit event is recorded here; creation is audited
// when it actually happens.
func (c *controller) processProvisionAsyncResponse(
	pcb *pretty.ContextBuilder,
	instance *services.ServiceInstance,
	result *brokerapi.ProvisionResult,
	requestAttrs map[string]interface{},
) (*ProvisionResponse, error) {
	now := time.Now()
	description := result.Description
	if description == "" {
		description = asyncProvisioningMessage
	}
	op := &services.ServiceInstanceOperation{
		InstanceGUID:           instance.GUID,
		Type:                   services.OperationTypeCreate,
		State:                  services.OperationStateInProgress,
		Description:            description,
		BrokerOperationKey:     result.OperationKey,
		StartedAt:              now,
		UpdatedAt:              now,
		PendingCredentials:     result.Credentials,
		PendingDashboardURL:    result.DashboardURL,
		PendingDashboardClient: result.DashboardClient,
		RequestAttrs:           requestAttrs,
	}

	if err := c.store.SaveInstance(instance, op); err != nil {
		klog.Error(pcb.Messagef("%s: failed to save instance after broker acceptance: %v", errorPersistFailedReason, err))
		mitigated := c.mitigateOrphan(instance) == nil
		return nil, &LocalPersistenceError{
			InstanceGUID:        instance.GUID,
			MitigationAttempted: mitigated,
			Err:                 err,
		}
	}

	metrics.ProvisionTotal.WithLabelValues(provisionOutcomeAccepted).Inc()
	c.instancePollingQueue.AddRateLimited(instance.GUID)
	klog.V(4).Info(pcb.Messagef("%s: %s", asyncProvisioningReason, description))

	return &ProvisionResponse{Instance: instance, Operation: op, Async: true}, nil
}
