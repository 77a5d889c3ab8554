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
	"github.com/pkg/errors"
	"k8s.io/klog"

	"github.com/osbkit/provisioner/pkg/apis/services"
	"github.com/osbkit/provisioner/pkg/brokerapi"
	"github.com/osbkit/provisioner/pkg/metrics"
	"github.com/osbkit/provisioner/pkg/pretty"
	"github.com/osbkit/provisioner/pkg/storage"
)

const (
	errorOrphanMitigationReason   = "OrphanMitigationFailed"
	successOrphanMitigationReason = "OrphanMitigated"

	mitigationOutcomeSucceeded = "succeeded"
	mitigationOutcomeFailed    = "failed"
)

// mitigateOrphan deprovisions an instance the broker may hold but the local
// store does not reflect. It uses the same instance and plan identifiers the
// provision call used, so the broker can correlate. Deprovision treats 410
// as success, which makes mitigation idempotent.
func (c *controller) mitigateOrphan(instance *services.ServiceInstance) error {
	pcb := pretty.NewInstanceContextBuilder(instance)

	plan, svc, broker, err := c.resolveBrokerFor(instance)
	if err != nil {
		metrics.OrphanMitigationTotal.WithLabelValues(mitigationOutcomeFailed).Inc()
		klog.Error(pcb.Messagef("%s: failed to resolve broker: %v", errorOrphanMitigationReason, err))
		return err
	}

	brokerClient := c.brokerClientManager.ClientForBroker(broker)
	if err := brokerClient.Deprovision(&brokerapi.DeprovisionRequest{
		InstanceGUID: instance.GUID,
		ServiceGUID:  svc.GUID,
		PlanGUID:     plan.GUID,
	}); err != nil {
		metrics.OrphanMitigationTotal.WithLabelValues(mitigationOutcomeFailed).Inc()
		klog.Error(pcb.Messagef("%s: deprovision failed: %v", errorOrphanMitigationReason, err))
		return err
	}

	metrics.OrphanMitigationTotal.WithLabelValues(mitigationOutcomeSucceeded).Inc()
	klog.V(4).Info(pcb.Messagef("%s: orphaned broker resource deprovisioned", successOrphanMitigationReason))
	return nil
}

// processNextMitigationItem handles one queued mitigation. Failures requeue
// with backoff up to OrphanMitigationMaxRetries, then the orphan is
// abandoned to the logs; mitigation failures never escalate to callers.
func (c *controller) processNextMitigationItem() bool {
	key, quit := c.mitigationQueue.Get()
	if quit {
		return false
	}
	defer c.mitigationQueue.Done(key)

	instanceGUID := key.(string)
	instance, err := c.store.Instance(instanceGUID)
	if err != nil {
		if errors.Cause(err) != storage.ErrNotFound {
			klog.Errorf("Dropping orphan mitigation for instance %q: %v", instanceGUID, err)
		}
		c.mitigationQueue.Forget(key)
		return true
	}

	if err := c.mitigateOrphan(instance); err != nil {
		if c.mitigationQueue.NumRequeues(key) < c.settings.OrphanMitigationMaxRetries {
			c.mitigationQueue.AddRateLimited(key)
			return true
		}
		klog.Errorf("Abandoning orphan mitigation for instance %q after %d attempts: %v",
			instanceGUID, c.settings.OrphanMitigationMaxRetries, err)
	}

	c.mitigationQueue.Forget(key)
	return true
}
