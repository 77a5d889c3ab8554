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

// Package server exposes the provisioning API over HTTP. Handlers are thin:
// they translate between HTTP and the controller, which owns all
// provisioning semantics.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"k8s.io/klog"

	"github.com/osbkit/provisioner/pkg/apis/services"
	"github.com/osbkit/provisioner/pkg/brokerapi"
	"github.com/osbkit/provisioner/pkg/controller"
	"github.com/osbkit/provisioner/pkg/storage"
	"github.com/osbkit/provisioner/pkg/util"
)

type server struct {
	controller controller.Controller
	store      storage.Storage
}

// CreateHandler creates the HTTP handler for the provisioning API.
func CreateHandler(c controller.Controller, store storage.Storage) http.Handler {
	s := &server{controller: c, store: store}

	router := mux.NewRouter()
	router.HandleFunc("/v2/service_instances/{instance_guid}", s.provision).Methods(http.MethodPut)
	router.HandleFunc("/v2/service_instances/{instance_guid}", s.getInstance).Methods(http.MethodGet)
	router.HandleFunc("/v2/service_instances/{instance_guid}/last_operation", s.lastOperation).Methods(http.MethodGet)
	return router
}

// provisionRequestBody is the caller's payload for creating an instance.
type provisionRequestBody struct {
	Name            string                 `json:"name"`
	SpaceGUID       string                 `json:"space_guid"`
	ServicePlanGUID string                 `json:"service_plan_guid"`
	Parameters      map[string]interface{} `json:"parameters,omitempty"`
}

// instanceResponseBody is the API representation of an instance together
// with its current operation.
type instanceResponseBody struct {
	*services.ServiceInstance
	LastOperation *services.ServiceInstanceOperation `json:"last_operation,omitempty"`

	// DashboardRegistrationError is set when the instance exists but its
	// dashboard SSO client could not be registered.
	DashboardRegistrationError string `json:"dashboard_registration_error,omitempty"`
}

type errorResponseBody struct {
	Description string `json:"description"`
}

func (s *server) provision(w http.ResponseWriter, r *http.Request) {
	instanceGUID := mux.Vars(r)["instance_guid"]

	body := provisionRequestBody{}
	if err := util.BodyToObject(r, &body); err != nil {
		util.WriteResponse(w, http.StatusBadRequest, errorResponseBody{Description: "malformed request body"})
		return
	}
	if body.Name == "" || body.SpaceGUID == "" || body.ServicePlanGUID == "" {
		util.WriteResponse(w, http.StatusBadRequest,
			errorResponseBody{Description: "name, space_guid and service_plan_guid are required"})
		return
	}

	acceptsIncomplete := r.URL.Query().Get("accepts_incomplete") == "true"

	resp, err := s.controller.Provision(&controller.ProvisionRequest{
		InstanceGUID:      instanceGUID,
		Name:              body.Name,
		SpaceGUID:         body.SpaceGUID,
		PlanGUID:          body.ServicePlanGUID,
		Parameters:        body.Parameters,
		AcceptsIncomplete: acceptsIncomplete,
		RequestAttrs: map[string]interface{}{
			"name":              body.Name,
			"space_guid":        body.SpaceGUID,
			"service_plan_guid": body.ServicePlanGUID,
		},
	})
	if err != nil {
		s.writeProvisionError(w, err)
		return
	}

	out := instanceResponseBody{
		ServiceInstance: resp.Instance,
		LastOperation:   resp.Operation,
	}
	if resp.RegistrationErr != nil {
		out.DashboardRegistrationError = resp.RegistrationErr.Error()
	}

	if resp.Async {
		util.WriteResponse(w, http.StatusAccepted, out)
		return
	}
	util.WriteResponse(w, http.StatusCreated, out)
}

func (s *server) writeProvisionError(w http.ResponseWriter, err error) {
	klog.V(4).Infof("Provision request failed: %v", err)

	switch {
	case err == storage.ErrOperationInProgress:
		util.WriteResponse(w, http.StatusConflict, errorResponseBody{Description: err.Error()})
	case errors.Cause(err) == storage.ErrNotFound:
		util.WriteResponse(w, http.StatusNotFound, errorResponseBody{Description: err.Error()})
	default:
		if _, ok := brokerapi.IsUnreachable(err); ok {
			util.WriteResponse(w, http.StatusBadGateway, errorResponseBody{Description: err.Error()})
			return
		}
		if _, ok := brokerapi.IsProtocolError(err); ok {
			util.WriteResponse(w, http.StatusBadGateway, errorResponseBody{Description: err.Error()})
			return
		}
		util.WriteResponse(w, http.StatusInternalServerError, errorResponseBody{Description: err.Error()})
	}
}

func (s *server) getInstance(w http.ResponseWriter, r *http.Request) {
	instanceGUID := mux.Vars(r)["instance_guid"]

	instance, err := s.store.Instance(instanceGUID)
	if err != nil {
		util.WriteResponse(w, http.StatusNotFound, errorResponseBody{Description: err.Error()})
		return
	}
	op, err := s.store.Operation(instanceGUID)
	if err != nil {
		op = nil
	}

	util.WriteResponse(w, http.StatusOK, instanceResponseBody{ServiceInstance: instance, LastOperation: op})
}

func (s *server) lastOperation(w http.ResponseWriter, r *http.Request) {
	instanceGUID := mux.Vars(r)["instance_guid"]

	op, err := s.store.Operation(instanceGUID)
	if err != nil {
		util.WriteResponse(w, http.StatusNotFound, errorResponseBody{Description: err.Error()})
		return
	}

	util.WriteResponse(w, http.StatusOK, struct {
		State       services.OperationState `json:"state"`
		Description string                  `json:"description,omitempty"`
	}{
		State:       op.State,
		Description: op.Description,
	})
}
