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

// Package fake provides a scriptable brokerapi.BrokerClient for tests.
package fake

import (
	"sync"

	"github.com/osbkit/provisioner/pkg/brokerapi"
)

// Client is a fake brokerapi.BrokerClient. Configure the Ret* fields (or the
// reaction funcs for per-call behavior) before use; every call is recorded.
type Client struct {
	mu sync.Mutex

	ProvisionReaction func(req *brokerapi.ProvisionRequest) (*brokerapi.ProvisionResult, error)
	RetProvision      *brokerapi.ProvisionResult
	RetProvisionErr   error
	provisionRequests []*brokerapi.ProvisionRequest

	DeprovisionReaction func(req *brokerapi.DeprovisionRequest) error
	RetDeprovisionErr   error
	deprovisionRequests []*brokerapi.DeprovisionRequest

	PollReaction          func(req *brokerapi.LastOperationRequest) (*brokerapi.LastOperationResponse, error)
	RetLastOperation      *brokerapi.LastOperationResponse
	RetLastOperationErr   error
	lastOperationRequests []*brokerapi.LastOperationRequest
}

var _ brokerapi.BrokerClient = &Client{}

// Provision implements brokerapi.BrokerClient.
func (c *Client) Provision(req *brokerapi.ProvisionRequest) (*brokerapi.ProvisionResult, error) {
	c.mu.Lock()
	c.provisionRequests = append(c.provisionRequests, req)
	reaction := c.ProvisionReaction
	c.mu.Unlock()

	if reaction != nil {
		return reaction(req)
	}
	return c.RetProvision, c.RetProvisionErr
}

// Deprovision implements brokerapi.BrokerClient.
func (c *Client) Deprovision(req *brokerapi.DeprovisionRequest) error {
	c.mu.Lock()
	c.deprovisionRequests = append(c.deprovisionRequests, req)
	reaction := c.DeprovisionReaction
	c.mu.Unlock()

	if reaction != nil {
		return reaction(req)
	}
	return c.RetDeprovisionErr
}

// PollLastOperation implements brokerapi.BrokerClient.
func (c *Client) PollLastOperation(req *brokerapi.LastOperationRequest) (*brokerapi.LastOperationResponse, error) {
	c.mu.Lock()
	c.lastOperationRequests = append(c.lastOperationRequests, req)
	reaction := c.PollReaction
	c.mu.Unlock()

	if reaction != nil {
		return reaction(req)
	}
	return c.RetLastOperation, c.RetLastOperationErr
}

// ProvisionRequests returns a copy of the recorded provision calls.
func (c *Client) ProvisionRequests() []*brokerapi.ProvisionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*brokerapi.ProvisionRequest{}, c.provisionRequests...)
}

// DeprovisionRequests returns a copy of the recorded deprovision calls.
func (c *Client) DeprovisionRequests() []*brokerapi.DeprovisionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*brokerapi.DeprovisionRequest{}, c.deprovisionRequests...)
}

// LastOperationRequests returns a copy of the recorded last_operation calls.
func (c *Client) LastOperationRequests() []*brokerapi.LastOperationRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*brokerapi.LastOperationRequest{}, c.lastOperationRequests...)
}
