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

// Package registrar registers dashboard single-sign-on clients with an
// external identity provider and records the association with the instance.
// Registration failures are partial-success conditions for provisioning:
// reported, never fatal.
package registrar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"k8s.io/klog"

	"github.com/osbkit/provisioner/pkg/apis/services"
	"github.com/osbkit/provisioner/pkg/storage"
	"github.com/osbkit/provisioner/pkg/util"
)

const (
	clientsFormatString = "%s/oauth/clients"
	clientFormatString  = "%s/oauth/clients/%s"

	defaultHTTPTimeout = 30 * time.Second
)

// DashboardClientRegistrar registers an SSO client for an instance's
// dashboard.
type DashboardClientRegistrar interface {
	// Register registers the broker-provided credentials with the identity
	// provider and persists the association. The credentials pass through
	// untouched.
	Register(dc *services.DashboardClient, instance *services.ServiceInstance) error
}

// Config describes how to reach the identity provider. TokenURL/ClientID/
// ClientSecret authenticate the provisioner itself via the client
// credentials grant.
type Config struct {
	URL          string `envconfig:"optional"`
	TokenURL     string `envconfig:"optional"`
	ClientID     string `envconfig:"optional"`
	ClientSecret string `envconfig:"optional"`
}

// clientRegistration is the identity provider's client-creation payload.
type clientRegistration struct {
	ClientID             string   `json:"client_id"`
	ClientSecret         string   `json:"client_secret"`
	RedirectURI          []string `json:"redirect_uri"`
	Scope                []string `json:"scope"`
	AuthorizedGrantTypes []string `json:"authorized_grant_types"`
}

// NewUAARegistrar creates a DashboardClientRegistrar talking to a UAA-style
// identity provider, recording associations in store.
func NewUAARegistrar(cfg Config, store storage.Storage) DashboardClientRegistrar {
	base := &http.Client{Timeout: defaultHTTPTimeout}

	httpClient := base
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = cc.Client(ctx)
		httpClient.Timeout = defaultHTTPTimeout
	}

	return &uaaRegistrar{
		url:    cfg.URL,
		client: httpClient,
		store:  store,
	}
}

type uaaRegistrar struct {
	url    string
	client *http.Client
	store  storage.Storage
}

var _ DashboardClientRegistrar = &uaaRegistrar{}

// Register implements DashboardClientRegistrar.
func (r *uaaRegistrar) Register(dc *services.DashboardClient, instance *services.ServiceInstance) error {
	registration := clientRegistration{
		ClientID:             dc.ID,
		ClientSecret:         dc.Secret,
		RedirectURI:          []string{dc.RedirectURI},
		Scope:                []string{"openid", "cloud_controller_service_permissions.read"},
		AuthorizedGrantTypes: []string{"authorization_code"},
	}

	u := fmt.Sprintf(clientsFormatString, r.url)
	resp, err := util.SendRequest(r.client, http.MethodPost, u, nil, registration)
	if err != nil {
		return &RegistrationError{InstanceGUID: instance.GUID, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict:
		return &RegistrationError{
			InstanceGUID: instance.GUID,
			Err:          fmt.Errorf("client id %q is already registered with the identity provider", dc.ID),
		}
	default:
		return &RegistrationError{
			InstanceGUID: instance.GUID,
			Err:          fmt.Errorf("unexpected status code %d from identity provider", resp.StatusCode),
		}
	}

	association := *dc
	association.InstanceGUID = instance.GUID
	if err := r.store.SaveDashboardClient(&association); err != nil {
		// The identity provider now has a client we could not associate.
		// Delete it again so SSO state and store state match; aggregate
		// both failures if the delete fails too.
		result := multierror.Append(nil, err)
		if delErr := r.deleteClient(dc.ID); delErr != nil {
			result = multierror.Append(result, delErr)
		}
		return &RegistrationError{InstanceGUID: instance.GUID, Err: result.ErrorOrNil()}
	}

	klog.V(4).Infof("Registered dashboard client %q for instance %q", dc.ID, instance.GUID)
	return nil
}

func (r *uaaRegistrar) deleteClient(clientID string) error {
	u := fmt.Sprintf(clientFormatString, r.url, clientID)
	resp, err := util.SendRequest(r.client, http.MethodDelete, u, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("unexpected status code %d deleting client %q", resp.StatusCode, clientID)
	}
	return nil
}

// RegistrationError reports a failed dashboard client registration. It is a
// partial-success condition: the instance is provisioned, its dashboard SSO
// is not usable.
type RegistrationError struct {
	InstanceGUID string
	Err          error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("failed to register dashboard client for instance %q: %v", e.InstanceGUID, e.Err)
}

// IsRegistrationError reports whether err is a dashboard registration
// failure.
func IsRegistrationError(err error) bool {
	_, ok := err.(*RegistrationError)
	return ok
}
