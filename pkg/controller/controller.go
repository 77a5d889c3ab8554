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

// Package controller orchestrates provisioning of service instances against
// service brokers. The controller owns the state machine; brokers, storage,
// the audit recorder and the dashboard registrar are collaborators behind
// interfaces.
package controller

import (
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog"

	"github.com/osbkit/provisioner/pkg/audit"
	"github.com/osbkit/provisioner/pkg/registrar"
	"github.com/osbkit/provisioner/pkg/storage"
)

// workerResyncPeriod is how long a crashed worker loop waits before it is
// restarted by wait.Until.
const workerResyncPeriod = time.Second

// Controller is the provisioning orchestrator. Provision drives the
// synchronous part of the flow; Run starts the background workers that
// poll asynchronous operations and mitigate orphans.
type Controller interface {
	// Provision provisions a new service instance against its broker.
	Provision(req *ProvisionRequest) (*ProvisionResponse, error)

	// Run starts the polling and mitigation workers and blocks until
	// stopCh closes.
	Run(workers int, stopCh <-chan struct{})
}

// NewController creates a Controller.
func NewController(
	store storage.Storage,
	brokerClientManager *BrokerClientManager,
	dashboardRegistrar registrar.DashboardClientRegistrar,
	recorder audit.EventRecorder,
	settings Settings,
) Controller {
	return &controller{
		store:               store,
		brokerClientManager: brokerClientManager,
		registrar:           dashboardRegistrar,
		recorder:            recorder,
		settings:            settings,
		instancePollingQueue: workqueue.NewNamedRateLimitingQueue(
			workqueue.NewItemExponentialFailureRateLimiter(
				settings.PollingInitialInterval,
				settings.PollingMaxInterval,
			),
			"instance-poller",
		),
		mitigationQueue: workqueue.NewNamedRateLimitingQueue(
			workqueue.DefaultControllerRateLimiter(),
			"orphan-mitigation",
		),
	}
}

type controller struct {
	store               storage.Storage
	brokerClientManager *BrokerClientManager
	registrar           registrar.DashboardClientRegistrar
	recorder            audit.EventRecorder
	settings            Settings

	// instancePollingQueue holds instance GUIDs with in-progress
	// operations. The queue deduplicates, so each instance is polled by at
	// most one worker at a time.
	instancePollingQueue workqueue.RateLimitingInterface

	// mitigationQueue holds instance GUIDs whose broker resources must be
	// deprovisioned after a terminal failure.
	mitigationQueue workqueue.RateLimitingInterface
}

var _ Controller = &controller{}

// Run implements Controller.
func (c *controller) Run(workers int, stopCh <-chan struct{}) {
	klog.Infof("Starting provisioning controller with %d workers", workers)

	for i := 0; i < workers; i++ {
		go wait.Until(c.pollingWorker, workerResyncPeriod, stopCh)
		go wait.Until(c.mitigationWorker, workerResyncPeriod, stopCh)
	}

	<-stopCh
	klog.Info("Shutting down provisioning controller")
	c.instancePollingQueue.ShutDown()
	c.mitigationQueue.ShutDown()
}

func (c *controller) pollingWorker() {
	for c.processNextPollingItem() {
	}
}

func (c *controller) processNextPollingItem() bool {
	key, quit := c.instancePollingQueue.Get()
	if quit {
		return false
	}
	defer c.instancePollingQueue.Done(key)

	c.pollServiceInstance(key.(string))
	return true
}

func (c *controller) mitigationWorker() {
	for c.processNextMitigationItem() {
	}
}
