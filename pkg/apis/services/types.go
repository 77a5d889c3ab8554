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

// Package services holds the domain model for managed service instances and
// the read-only catalog objects (brokers, services, plans) they reference.
package services

import "time"

// OperationState is the state of a ServiceInstanceOperation.
type OperationState string

const (
	// OperationStateInProgress means the broker has accepted the operation
	// but has not yet reached a terminal state.
	OperationStateInProgress OperationState = "in progress"
	// OperationStateSucceeded is a terminal success.
	OperationStateSucceeded OperationState = "succeeded"
	// OperationStateFailed is a terminal failure.
	OperationStateFailed OperationState = "failed"
)

// OperationType is the kind of operation being tracked for an instance.
type OperationType string

const (
	// OperationTypeCreate tracks a provisioning attempt.
	OperationTypeCreate OperationType = "create"
)

// ServiceInstance is the durable record of a managed service instance. An
// instance record never exists without provisioning having at least been
// attempted against the broker.
type ServiceInstance struct {
	GUID      string `json:"guid"`
	Name      string `json:"name"`
	SpaceGUID string `json:"space_guid"`

	// ServicePlanGUID references the plan this instance was provisioned
	// from; broker endpoint and credentials are resolved transitively
	// through plan -> service -> broker.
	ServicePlanGUID string `json:"service_plan_guid"`

	// Credentials is the opaque blob returned by the broker. Defaults to an
	// empty map, never nil.
	Credentials map[string]interface{} `json:"credentials"`

	DashboardURL string `json:"dashboard_url,omitempty"`

	// Parameters are caller-supplied and passed to the broker unmodified.
	// Write-only: they are never re-read for comparison.
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ServiceInstanceOperation tracks the current provisioning state of exactly
// one ServiceInstance. It is replaced wholesale on each new provisioning
// attempt; an instance must never have more than one in-progress operation.
type ServiceInstanceOperation struct {
	InstanceGUID string         `json:"instance_guid"`
	Type         OperationType  `json:"type"`
	State        OperationState `json:"state"`

	// Description is free text from the broker, shown to callers polling
	// the instance.
	Description string `json:"description,omitempty"`

	// BrokerOperationKey is the opaque token returned by the broker on a 202
	// acceptance; it is echoed back on last_operation queries.
	BrokerOperationKey string `json:"broker_operation_key,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Pending* hold broker response data captured at async acceptance time.
	// They are applied to the instance when the operation succeeds and are
	// discarded on failure.
	PendingCredentials     map[string]interface{} `json:"pending_credentials,omitempty"`
	PendingDashboardURL    string                 `json:"pending_dashboard_url,omitempty"`
	PendingDashboardClient *DashboardClient       `json:"pending_dashboard_client,omitempty"`

	// RequestAttrs snapshots the original request attributes so the
	// deferred creation audit event can be emitted when an asynchronous
	// provision eventually succeeds.
	RequestAttrs map[string]interface{} `json:"request_attrs,omitempty"`
}

// InProgress returns true while the operation has not reached a terminal
// state.
func (o *ServiceInstanceOperation) InProgress() bool {
	return o != nil && o.State == OperationStateInProgress
}

// DashboardClient holds SSO client credentials a broker returned for an
// instance's dashboard. Existence implies dashboard SSO is usable.
type DashboardClient struct {
	InstanceGUID string `json:"instance_guid,omitempty"`
	ID           string `json:"id"`
	Secret       string `json:"secret"`
	RedirectURI  string `json:"redirect_uri"`
}

// ServicePlan is a read-only catalog reference.
type ServicePlan struct {
	GUID        string `json:"guid"`
	Name        string `json:"name"`
	ServiceGUID string `json:"service_guid"`
	Free        bool   `json:"free,omitempty"`
	Description string `json:"description,omitempty"`
}

// Service is a read-only catalog reference tying plans to a broker.
type Service struct {
	GUID       string `json:"guid"`
	Label      string `json:"label"`
	BrokerGUID string `json:"broker_guid"`
}

// ServiceBroker describes how to reach a broker: endpoint plus basic-auth
// credentials. Looked up through the catalog at call time, never mutated.
type ServiceBroker struct {
	GUID         string `json:"guid"`
	Name         string `json:"name"`
	URL          string `json:"url"`
	AuthUsername string `json:"auth_username"`
	AuthPassword string `json:"auth_password"`
}

// Space is a read-only owning-space reference supplied by the caller.
type Space struct {
	GUID             string `json:"guid"`
	Name             string `json:"name"`
	OrganizationGUID string `json:"organization_guid"`
}
