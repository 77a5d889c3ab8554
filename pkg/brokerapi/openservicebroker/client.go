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

// Package openservicebroker implements brokerapi.BrokerClient against
// brokers speaking the v2 service broker HTTP protocol.
package openservicebroker

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"k8s.io/klog"

	"github.com/osbkit/provisioner/pkg/apis/services"
	"github.com/osbkit/provisioner/pkg/brokerapi"
	"github.com/osbkit/provisioner/pkg/util"
)

const (
	serviceInstanceFormatString = "%s/v2/service_instances/%s"
	pollingFormatString         = "%s/v2/service_instances/%s/last_operation"

	defaultHTTPTimeout = 60 * time.Second
)

type client struct {
	broker *services.ServiceBroker
	client *http.Client
}

// NewClient creates a brokerapi.BrokerClient for the given broker. The HTTP
// client carries an explicit timeout so callers never hang on a stuck
// broker.
func NewClient(b *services.ServiceBroker) brokerapi.BrokerClient {
	return NewClientWithTimeout(b, defaultHTTPTimeout)
}

// NewClientWithTimeout is NewClient with a caller-chosen request timeout.
func NewClientWithTimeout(b *services.ServiceBroker, timeout time.Duration) brokerapi.BrokerClient {
	return &client{
		broker: b,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *client) auth() *util.BasicAuth {
	if c.broker.AuthUsername == "" && c.broker.AuthPassword == "" {
		return nil
	}
	return &util.BasicAuth{Username: c.broker.AuthUsername, Password: c.broker.AuthPassword}
}

// provisionResponseBody is the broker's response to a provision call. On a
// 200/201 credentials, dashboard_url and dashboard_client may be present;
// on a 202 the operation token and an optional description are.
type provisionResponseBody struct {
	Credentials     map[string]interface{}    `json:"credentials,omitempty"`
	DashboardURL    string                    `json:"dashboard_url,omitempty"`
	DashboardClient *services.DashboardClient `json:"dashboard_client,omitempty"`
	Operation       string                    `json:"operation,omitempty"`
	Description     string                    `json:"description,omitempty"`
}

func (c *client) Provision(req *brokerapi.ProvisionRequest) (*brokerapi.ProvisionResult, error) {
	u := fmt.Sprintf(serviceInstanceFormatString, c.broker.URL, req.InstanceGUID)
	if req.AcceptsIncomplete {
		u += "?accepts_incomplete=true"
	}

	klog.V(4).Infof("Provisioning instance %q at broker %q", req.InstanceGUID, c.broker.Name)
	resp, err := util.SendRequest(c.client, http.MethodPut, u, c.auth(), req)
	if err != nil {
		return nil, &brokerapi.UnreachableError{Op: "provision", Err: err}
	}
	defer resp.Body.Close()

	body := provisionResponseBody{}
	if err := util.ResponseBodyToObject(resp, &body); err != nil {
		return nil, &brokerapi.ProtocolError{Op: "provision", StatusCode: resp.StatusCode, Message: err.Error()}
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		credentials := body.Credentials
		if credentials == nil {
			// A broker that omits credentials gets an empty mapping,
			// never nil.
			credentials = map[string]interface{}{}
		}
		return &brokerapi.ProvisionResult{
			Credentials:     credentials,
			DashboardURL:    body.DashboardURL,
			DashboardClient: body.DashboardClient,
		}, nil
	case http.StatusAccepted:
		if !req.AcceptsIncomplete {
			return nil, &brokerapi.ProtocolError{
				Op:         "provision",
				StatusCode: resp.StatusCode,
				Message:    "broker replied asynchronously to a request without accepts_incomplete",
			}
		}
		return &brokerapi.ProvisionResult{
			Async:           true,
			Credentials:     body.Credentials,
			DashboardURL:    body.DashboardURL,
			DashboardClient: body.DashboardClient,
			OperationKey:    body.Operation,
			Description:     body.Description,
		}, nil
	default:
		return nil, &brokerapi.ProtocolError{
			Op:         "provision",
			StatusCode: resp.StatusCode,
			Message:    "unexpected status code from broker",
		}
	}
}

func (c *client) Deprovision(req *brokerapi.DeprovisionRequest) error {
	u := fmt.Sprintf(serviceInstanceFormatString, c.broker.URL, req.InstanceGUID)
	u += "?" + url.Values{
		"service_id": []string{req.ServiceGUID},
		"plan_id":    []string{req.PlanGUID},
	}.Encode()

	klog.V(4).Infof("Deprovisioning instance %q at broker %q", req.InstanceGUID, c.broker.Name)
	resp, err := util.SendRequest(c.client, http.MethodDelete, u, c.auth(), nil)
	if err != nil {
		return &brokerapi.UnreachableError{Op: "deprovision", Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusGone:
		// 410 means the broker no longer knows the instance, which is as
		// deprovisioned as it gets.
		return nil
	default:
		return &brokerapi.ProtocolError{
			Op:         "deprovision",
			StatusCode: resp.StatusCode,
			Message:    "unexpected status code from broker",
		}
	}
}

func (c *client) PollLastOperation(req *brokerapi.LastOperationRequest) (*brokerapi.LastOperationResponse, error) {
	q := url.Values{}
	if req.ServiceGUID != "" {
		q.Set("service_id", req.ServiceGUID)
	}
	if req.PlanGUID != "" {
		q.Set("plan_id", req.PlanGUID)
	}
	if req.OperationKey != "" {
		q.Set("operation", req.OperationKey)
	}
	u := fmt.Sprintf(pollingFormatString, c.broker.URL, req.InstanceGUID)
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}

	klog.V(5).Infof("Polling last operation for instance %q at broker %q", req.InstanceGUID, c.broker.Name)
	resp, err := util.SendRequest(c.client, http.MethodGet, u, c.auth(), nil)
	if err != nil {
		return nil, &brokerapi.UnreachableError{Op: "last_operation", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &brokerapi.ProtocolError{
			Op:         "last_operation",
			StatusCode: resp.StatusCode,
			Message:    "unexpected status code from broker",
		}
	}

	lo := brokerapi.LastOperationResponse{}
	if err := util.ResponseBodyToObject(resp, &lo); err != nil {
		return nil, &brokerapi.ProtocolError{Op: "last_operation", StatusCode: resp.StatusCode, Message: err.Error()}
	}

	switch lo.State {
	case brokerapi.StateInProgress, brokerapi.StateSucceeded, brokerapi.StateFailed:
		return &lo, nil
	default:
		return nil, &brokerapi.ProtocolError{
			Op:         "last_operation",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unknown state %q received from broker", lo.State),
		}
	}
}
