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

// Package brokerapi defines the wire contract between the provisioning
// controller and a service broker, and the client interface used to speak
// it. Brokers are black boxes: the client reports what the broker said, it
// does not interpret provisioning semantics.
package brokerapi

import "github.com/osbkit/provisioner/pkg/apis/services"

// LastOperationState is the state a broker reports for an asynchronous
// operation.
type LastOperationState string

const (
	// StateInProgress means the broker is still working on the operation.
	StateInProgress LastOperationState = "in progress"
	// StateSucceeded means the operation completed successfully.
	StateSucceeded LastOperationState = "succeeded"
	// StateFailed means the operation failed terminally.
	StateFailed LastOperationState = "failed"
)

// ProvisionRequest is the payload sent to the broker to provision a service
// instance. Parameters pass through unmodified; the client never inspects
// them.
type ProvisionRequest struct {
	InstanceGUID      string                 `json:"-"`
	ServiceGUID       string                 `json:"service_id"`
	PlanGUID          string                 `json:"plan_id"`
	OrganizationGUID  string                 `json:"organization_guid"`
	SpaceGUID         string                 `json:"space_guid"`
	Parameters        map[string]interface{} `json:"parameters,omitempty"`
	AcceptsIncomplete bool                   `json:"-"`
}

// ProvisionResult is the tagged result of a provision call. Exactly one of
// the outcomes holds:
//
//   - Async == false: the broker completed synchronously (HTTP 200/201);
//     Credentials, DashboardURL and DashboardClient carry the response body.
//   - Async == true: the broker accepted the request (HTTP 202);
//     OperationKey and Description carry the acceptance body. Any
//     credentials or dashboard data returned at acceptance time are
//     provisional until the operation succeeds.
//
// Failures never produce a ProvisionResult; they surface as errors from the
// client.
type ProvisionResult struct {
	Async bool

	Credentials     map[string]interface{}
	DashboardURL    string
	DashboardClient *services.DashboardClient

	OperationKey string
	Description  string
}

// DeprovisionRequest is the payload for a deprovision call. It must carry
// the same instance and plan identifiers used for provisioning.
type DeprovisionRequest struct {
	InstanceGUID string
	ServiceGUID  string
	PlanGUID     string
}

// LastOperationRequest queries the state of an asynchronous operation.
// OperationKey is the token returned at acceptance time, empty if the broker
// supplied none.
type LastOperationRequest struct {
	InstanceGUID string
	ServiceGUID  string
	PlanGUID     string
	OperationKey string
}

// LastOperationResponse is the broker's answer to a last_operation query.
type LastOperationResponse struct {
	State       LastOperationState `json:"state"`
	Description string             `json:"description,omitempty"`
}

// BrokerClient is a stateless adapter for one broker endpoint. Idempotency
// of the underlying operations is the broker's responsibility.
type BrokerClient interface {
	// Provision issues the provision call. Network errors, malformed
	// bodies and unexpected status codes all surface as errors, never as
	// panics.
	Provision(req *ProvisionRequest) (*ProvisionResult, error)

	// Deprovision issues a deprovision call. A 410 Gone from the broker is
	// treated as success.
	Deprovision(req *DeprovisionRequest) error

	// PollLastOperation performs a single idempotent read of the broker's
	// last_operation endpoint.
	PollLastOperation(req *LastOperationRequest) (*LastOperationResponse, error)
}

// CreateFunc creates a BrokerClient for the given broker. Injected so tests
// can substitute fakes.
type CreateFunc func(broker *services.ServiceBroker) BrokerClient
