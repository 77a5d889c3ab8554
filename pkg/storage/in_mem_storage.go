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

package storage

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/osbkit/provisioner/pkg/apis/services"
)

type inMemoryStorage struct {
	mu sync.RWMutex

	brokers  map[string]*services.ServiceBroker
	services map[string]*services.Service
	plans    map[string]*services.ServicePlan
	spaces   map[string]*services.Space

	instances        map[string]*services.ServiceInstance
	operations       map[string]*services.ServiceInstanceOperation
	dashboardClients map[string]*services.DashboardClient
}

// CreateInMemoryStorage creates a storage backed by memory. Catalog records
// are seeded through the Add* methods before the controller starts.
func CreateInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		inMemoryStorage{
			brokers:          make(map[string]*services.ServiceBroker),
			services:         make(map[string]*services.Service),
			plans:            make(map[string]*services.ServicePlan),
			spaces:           make(map[string]*services.Space),
			instances:        make(map[string]*services.ServiceInstance),
			operations:       make(map[string]*services.ServiceInstanceOperation),
			dashboardClients: make(map[string]*services.DashboardClient),
		},
	}
}

// InMemoryStorage implements Storage with maps guarded by an RWMutex.
type InMemoryStorage struct {
	inMemoryStorage
}

var _ Storage = &InMemoryStorage{}

// AddBroker seeds a broker record.
func (s *InMemoryStorage) AddBroker(b *services.ServiceBroker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokers[b.GUID] = b
}

// AddService seeds a service record.
func (s *InMemoryStorage) AddService(svc *services.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.GUID] = svc
}

// AddPlan seeds a plan record.
func (s *InMemoryStorage) AddPlan(p *services.ServicePlan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.GUID] = p
}

// AddSpace seeds a space record.
func (s *InMemoryStorage) AddSpace(sp *services.Space) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spaces[sp.GUID] = sp
}

// Broker implements Catalog.
func (s *InMemoryStorage) Broker(guid string) (*services.ServiceBroker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.brokers[guid]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "broker %q", guid)
	}
	return b, nil
}

// Service implements Catalog.
func (s *InMemoryStorage) Service(guid string) (*services.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[guid]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "service %q", guid)
	}
	return svc, nil
}

// Plan implements Catalog.
func (s *InMemoryStorage) Plan(guid string) (*services.ServicePlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[guid]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "plan %q", guid)
	}
	return p, nil
}

// Space implements Catalog.
func (s *InMemoryStorage) Space(guid string) (*services.Space, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.spaces[guid]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "space %q", guid)
	}
	return sp, nil
}

// SaveInstance implements Storage. The instance and operation are persisted
// under one lock acquisition, the in-memory stand-in for one transaction.
func (s *InMemoryStorage) SaveInstance(instance *services.ServiceInstance, op *services.ServiceInstanceOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.operations[instance.GUID]; ok {
		// Replacing an in-progress operation is only legal when the save
		// transitions that same operation.
		if existing.InProgress() && op.State == services.OperationStateInProgress && existing != op &&
			existing.StartedAt != op.StartedAt {
			return ErrOperationInProgress
		}
	}

	s.instances[instance.GUID] = copyInstance(instance)
	s.operations[instance.GUID] = copyOperation(op)
	return nil
}

// Instance implements Storage.
func (s *InMemoryStorage) Instance(guid string) (*services.ServiceInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[guid]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "instance %q", guid)
	}
	return copyInstance(inst), nil
}

// Operation implements Storage.
func (s *InMemoryStorage) Operation(instanceGUID string) (*services.ServiceInstanceOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operations[instanceGUID]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "operation for instance %q", instanceGUID)
	}
	return copyOperation(op), nil
}

// DeleteInstance implements Storage.
func (s *InMemoryStorage) DeleteInstance(guid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[guid]; !ok {
		return errors.Wrapf(ErrNotFound, "instance %q", guid)
	}
	delete(s.instances, guid)
	delete(s.operations, guid)
	delete(s.dashboardClients, guid)
	return nil
}

// SaveDashboardClient implements Storage.
func (s *InMemoryStorage) SaveDashboardClient(dc *services.DashboardClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[dc.InstanceGUID]; !ok {
		return errors.Wrapf(ErrNotFound, "instance %q", dc.InstanceGUID)
	}
	clone := *dc
	s.dashboardClients[dc.InstanceGUID] = &clone
	return nil
}

// DashboardClient implements Storage.
func (s *InMemoryStorage) DashboardClient(instanceGUID string) (*services.DashboardClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dc, ok := s.dashboardClients[instanceGUID]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "dashboard client for instance %q", instanceGUID)
	}
	clone := *dc
	return &clone, nil
}

func copyInstance(in *services.ServiceInstance) *services.ServiceInstance {
	out := *in
	if in.Credentials != nil {
		out.Credentials = make(map[string]interface{}, len(in.Credentials))
		for k, v := range in.Credentials {
			out.Credentials[k] = v
		}
	}
	if in.Parameters != nil {
		out.Parameters = make(map[string]interface{}, len(in.Parameters))
		for k, v := range in.Parameters {
			out.Parameters[k] = v
		}
	}
	return &out
}

func copyOperation(in *services.ServiceInstanceOperation) *services.ServiceInstanceOperation {
	out := *in
	if in.PendingCredentials != nil {
		out.PendingCredentials = make(map[string]interface{}, len(in.PendingCredentials))
		for k, v := range in.PendingCredentials {
			out.PendingCredentials[k] = v
		}
	}
	if in.PendingDashboardClient != nil {
		dc := *in.PendingDashboardClient
		out.PendingDashboardClient = &dc
	}
	return &out
}
