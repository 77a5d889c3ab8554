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

// Package storage defines the durable-store seam the provisioning
// controller coordinates through. The store owns locking and transaction
// discipline; the controller only relies on Save being atomic for the
// instance/operation pair.
package storage

import (
	"errors"

	"github.com/osbkit/provisioner/pkg/apis/services"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrOperationInProgress is returned when a save would create a second
// in-progress operation for the same instance.
var ErrOperationInProgress = errors.New("another operation for this service instance is in progress")

// Catalog is the read-only lookup surface for brokers, services, plans and
// spaces. Broker endpoint and credentials are resolved transitively through
// plan -> service -> broker.
type Catalog interface {
	Broker(guid string) (*services.ServiceBroker, error)
	Service(guid string) (*services.Service, error)
	Plan(guid string) (*services.ServicePlan, error)
	Space(guid string) (*services.Space, error)
}

// Storage is the durable record store for instances, their operations, and
// dashboard client associations.
type Storage interface {
	Catalog

	// SaveInstance atomically persists the instance together with its
	// operation record, replacing any previous operation. It fails with
	// ErrOperationInProgress if an in-progress operation exists for the
	// instance and the save is not itself transitioning that operation.
	SaveInstance(instance *services.ServiceInstance, op *services.ServiceInstanceOperation) error

	// Instance returns the instance with the given GUID.
	Instance(guid string) (*services.ServiceInstance, error)

	// Operation returns the current operation record for the instance, or
	// ErrNotFound if provisioning was never attempted.
	Operation(instanceGUID string) (*services.ServiceInstanceOperation, error)

	// DeleteInstance removes the instance and its operation record.
	DeleteInstance(guid string) error

	// SaveDashboardClient records the dashboard SSO client association for
	// an instance.
	SaveDashboardClient(dc *services.DashboardClient) error

	// DashboardClient returns the dashboard client for the instance, or
	// ErrNotFound.
	DashboardClient(instanceGUID string) (*services.DashboardClient, error)
}
