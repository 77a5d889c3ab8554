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
	"reflect"
	"sync"

	"k8s.io/klog"

	"github.com/osbkit/provisioner/pkg/apis/services"
	"github.com/osbkit/provisioner/pkg/brokerapi"
)

// BrokerClientManager stores broker client instances per broker. Broker
// configuration is resolved through the read-only catalog at call time;
// clients are rebuilt when that configuration changes.
type BrokerClientManager struct {
	mu      sync.RWMutex
	clients map[string]clientWithConfig

	brokerClientCreateFunc brokerapi.CreateFunc
}

// NewBrokerClientManager creates a BrokerClientManager instance.
func NewBrokerClientManager(brokerClientCreateFunc brokerapi.CreateFunc) *BrokerClientManager {
	return &BrokerClientManager{
		clients:                map[string]clientWithConfig{},
		brokerClientCreateFunc: brokerClientCreateFunc,
	}
}

// ClientForBroker returns the client for the given broker, creating or
// replacing it if the broker's configuration has changed since the client
// was built.
func (m *BrokerClientManager) ClientForBroker(broker *services.ServiceBroker) brokerapi.BrokerClient {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, found := m.clients[broker.GUID]
	if !found || configHasChanged(existing.broker, broker) {
		klog.V(4).Infof("Creating broker client for broker %q, URL: %s", broker.Name, broker.URL)
		client := m.brokerClientCreateFunc(broker)
		m.clients[broker.GUID] = clientWithConfig{client: client, broker: copyBroker(broker)}
		return client
	}

	return existing.client
}

// RemoveBrokerClient drops the cached client for a broker.
func (m *BrokerClientManager) RemoveBrokerClient(brokerGUID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	klog.V(4).Infof("Removing broker client for broker %q", brokerGUID)
	delete(m.clients, brokerGUID)
}

func configHasChanged(cfg1, cfg2 *services.ServiceBroker) bool {
	return !reflect.DeepEqual(cfg1, cfg2)
}

func copyBroker(b *services.ServiceBroker) *services.ServiceBroker {
	clone := *b
	return &clone
}

type clientWithConfig struct {
	client brokerapi.BrokerClient
	broker *services.ServiceBroker
}
