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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osbkit/provisioner/pkg/apis/services"
	"github.com/osbkit/provisioner/pkg/brokerapi"
	"github.com/osbkit/provisioner/pkg/brokerapi/fake"
)

func managerBroker() *services.ServiceBroker {
	return &services.ServiceBroker{
		GUID:         testBrokerGUID,
		Name:         "test-broker",
		URL:          "http://broker.example.com",
		AuthUsername: "admin",
		AuthPassword: "secret",
	}
}

func TestClientForBrokerReusesClient(t *testing.T) {
	created := 0
	manager := NewBrokerClientManager(func(b *services.ServiceBroker) brokerapi.BrokerClient {
		created++
		return &fake.Client{}
	})

	first := manager.ClientForBroker(managerBroker())
	second := manager.ClientForBroker(managerBroker())

	assert.Equal(t, 1, created)
	assert.Same(t, first, second)
}

func TestClientForBrokerRebuildsOnConfigChange(t *testing.T) {
	created := 0
	manager := NewBrokerClientManager(func(b *services.ServiceBroker) brokerapi.BrokerClient {
		created++
		return &fake.Client{}
	})

	first := manager.ClientForBroker(managerBroker())

	changed := managerBroker()
	changed.AuthPassword = "rotated"
	second := manager.ClientForBroker(changed)

	assert.Equal(t, 2, created)
	assert.False(t, first == second)
}

func TestRemoveBrokerClient(t *testing.T) {
	created := 0
	manager := NewBrokerClientManager(func(b *services.ServiceBroker) brokerapi.BrokerClient {
		created++
		return &fake.Client{}
	})

	manager.ClientForBroker(managerBroker())
	manager.RemoveBrokerClient(testBrokerGUID)
	manager.ClientForBroker(managerBroker())

	assert.Equal(t, 2, created)
}
