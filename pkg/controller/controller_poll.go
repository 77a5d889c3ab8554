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

	"k8s.io/klog"

	"github.com/osbkit/provisioner/pkg/apis/services"
	"github.com/osbkit/provisioner/pkg/audit"
	"github.com/osbkit/provisioner/pkg/brokerapi"
	"github.com/osbkit/provisioner/pkg/metrics"
	"github.com/osbkit/provisioner/pkg/pretty"
)

const (
	successProvisionedAsyncMessage  = "The instance was provisioned asynchronously"
	errorPollingLastOperation       = "ErrorPollingLastOperation"
	errorReconciliationRetryExpired = "ErrorReconciliationRetryTimeout"
	failedDeadlineExceededMessage   = "The asynchronous operation timed out before reaching a final state"

	pollStateInProgress = "in_progress"
	pollStateSucceeded  = "succeeded"
	pollStateFailed     = "failed"
	pollStateError      = "error"
)

// pollServiceInstance performs one poll of the broker's last_operation
// endpoint for the given instance and decides whether to requeue. Requeue
// scheduling is the queue's job; this method only calls AddRateLimited or
// Forget.
func (c *controller) pollServiceInstance(instanceGUID string) {
	instance, err := c.store.Instance(instanceGUID)
	if err != nil {
		klog.Errorf("Dropping poll for instance %q: %v", instanceGUID, err)
		c.instancePollingQueue.Forget(instanceGUID)
		return
	}
	pcb := pretty.NewInstanceContextBuilder(instance)

	op, err := c.store.Operation(instanceGUID)
	if err != nil || !op.InProgress() {
		klog.V(4).Info(pcb.Message("operation is no longer in progress, dropping poll"))
		c.instancePollingQueue.Forget(instanceGUID)
		return
	}

	plan, svc, broker, err := c.resolveBrokerFor(instance)
	if err != nil {
		klog.Error(pcb.Messagef("failed to resolve broker for poll: %v", err))
		c.instancePollingQueue.AddRateLimited(instanceGUID)
		return
	}

	brokerClient := c.brokerClientManager.ClientForBroker(broker)
	resp, err := brokerClient.PollLastOperation(&brokerapi.LastOperationRequest{
		InstanceGUID: instance.GUID,
		ServiceGUID:  svc.GUID,
		PlanGUID:     plan.GUID,
		OperationKey: op.BrokerOperationKey,
	})
	if err != nil {
		metrics.PollTotal.WithLabelValues(pollStateError).Inc()
		klog.V(4).Info(pcb.Messagef("%s: %v", errorPollingLastOperation, err))
		// A poll failure says nothing about the operation itself. Keep
		// polling until the retry budget runs out.
		if c.reconciliationRetryDurationExceeded(op.StartedAt) {
			c.failTimedOutOperation(pcb, instance, op)
			return
		}
		c.instancePollingQueue.AddRateLimited(instanceGUID)
		return
	}

	switch resp.State {
	case brokerapi.StateInProgress:
		metrics.PollTotal.WithLabelValues(pollStateInProgress).Inc()
		if resp.Description != "" {
			op.Description = resp.Description
		}
		op.UpdatedAt = time.Now()
		if err := c.store.SaveInstance(instance, op); err != nil {
			klog.Error(pcb.Messagef("failed to save polled operation state: %v", err))
		}
		if c.reconciliationRetryDurationExceeded(op.StartedAt) {
			c.failTimedOutOperation(pcb, instance, op)
			return
		}
		klog.V(4).Info(pcb.Message("operation still in progress"))
		c.instancePollingQueue.AddRateLimited(instanceGUID)

	case brokerapi.StateSucceeded:
		metrics.PollTotal.WithLabelValues(pollStateSucceeded).Inc()
		c.processPollSucceeded(pcb, instance, op, resp)

	case brokerapi.StateFailed:
		metrics.PollTotal.WithLabelValues(pollStateFailed).Inc()
		c.processPollFailed(pcb, instance, op, resp)
	}
}

// processPollSucceeded finalizes an asynchronous provision: the pending
// broker response data captured at acceptance time is applied to the
// instance, the deferred creation audit event is recorded, and dashboard SSO
// registration happens if the broker supplied a client.
func (c *controller) processPollSucceeded(
	pcb *pretty.ContextBuilder,
	instance *services.ServiceInstance,
	op *services.ServiceInstanceOperation,
	resp *brokerapi.LastOperationResponse,
) {
	instance.Credentials = op.PendingCredentials
	if instance.Credentials == nil {
		instance.Credentials = map[string]interface{}{}
	}
	instance.DashboardURL = op.PendingDashboardURL

	dashboardClient := op.PendingDashboardClient
	requestAttrs := op.RequestAttrs

	op.State = services.OperationStateSucceeded
	op.Description = resp.Description
	if op.Description == "" {
		op.Description = successProvisionedAsyncMessage
	}
	op.UpdatedAt = time.Now()
	op.PendingCredentials = nil
	op.PendingDashboardURL = ""
	op.PendingDashboardClient = nil
	op.RequestAttrs = nil

	if err := c.store.SaveInstance(instance, op); err != nil {
		// Retry the whole poll; PollLastOperation is idempotent and the
		// broker will report succeeded again. The retry budget still
		// applies, a persistently failing store must not loop forever.
		klog.Error(pcb.Messagef("%s: failed to save completed instance: %v", errorPersistFailedReason, err))
		if c.reconciliationRetryDurationExceeded(op.StartedAt) {
			c.failTimedOutOperation(pcb, instance, op)
			return
		}
		c.instancePollingQueue.AddRateLimited(instance.GUID)
		return
	}

	if dashboardClient != nil {
		if err := c.registrar.Register(dashboardClient, instance); err != nil {
			metrics.DashboardRegistrationTotal.WithLabelValues(registrationOutcomeFailed).Inc()
			klog.Error(pcb.Messagef("%s: %v", errorDashboardRegistration, err))
		} else {
			metrics.DashboardRegistrationTotal.WithLabelValues(registrationOutcomeSucceeded).Inc()
		}
	}

	c.recorder.RecordServiceInstanceEvent(audit.ActionCreate, instance, requestAttrs)
	klog.V(4).Info(pcb.Messagef("%s: %s", successProvisionReason, successProvisionedAsyncMessage))
	c.instancePollingQueue.Forget(instance.GUID)
}

// processPollFailed records the terminal failure and schedules orphan
// mitigation. The broker may or may not hold a partially created resource;
// deprovisioning is idempotent either way.
func (c *controller) processPollFailed(
	pcb *pretty.ContextBuilder,
	instance *services.ServiceInstance,
	op *services.ServiceInstanceOperation,
	resp *brokerapi.LastOperationResponse,
) {
	op.State = services.OperationStateFailed
	if resp.Description != "" {
		op.Description = resp.Description
	}
	op.UpdatedAt = time.Now()
	op.PendingCredentials = nil
	op.PendingDashboardURL = ""
	op.PendingDashboardClient = nil
	op.RequestAttrs = nil

	if err := c.store.SaveInstance(instance, op); err != nil {
		klog.Error(pcb.Messagef("%s: failed to save failed operation state: %v", errorPersistFailedReason, err))
	}

	klog.V(4).Info(pcb.Messagef("provisioning failed at the broker: %s", op.Description))
	c.mitigationQueue.Add(instance.GUID)
	c.instancePollingQueue.Forget(instance.GUID)
}

// failTimedOutOperation marks the operation failed after the retry budget
// expired and schedules orphan mitigation.
func (c *controller) failTimedOutOperation(
	pcb *pretty.ContextBuilder,
	instance *services.ServiceInstance,
	op *services.ServiceInstanceOperation,
) {
	klog.Error(pcb.Messagef("%s: %s", errorReconciliationRetryExpired, failedDeadlineExceededMessage))

	op.State = services.OperationStateFailed
	op.Description = failedDeadlineExceededMessage
	op.UpdatedAt = time.Now()
	op.PendingCredentials = nil
	op.PendingDashboardURL = ""
	op.PendingDashboardClient = nil
	op.RequestAttrs = nil

	if err := c.store.SaveInstance(instance, op); err != nil {
		klog.Error(pcb.Messagef("%s: failed to save timed-out operation state: %v", errorPersistFailedReason, err))
	}

	c.mitigationQueue.Add(instance.GUID)
	c.instancePollingQueue.Forget(instance.GUID)
}

// resolveBrokerFor walks plan -> service -> broker for an instance.
func (c *controller) resolveBrokerFor(instance *services.ServiceInstance) (*services.ServicePlan, *services.Service, *services.ServiceBroker, error) {
	plan, err := c.store.Plan(instance.ServicePlanGUID)
	if err != nil {
		return nil, nil, nil, err
	}
	svc, err := c.store.Service(plan.ServiceGUID)
	if err != nil {
		return nil, nil, nil, err
	}
	broker, err := c.store.Broker(svc.BrokerGUID)
	if err != nil {
		return nil, nil, nil, err
	}
	return plan, svc, broker, nil
}
