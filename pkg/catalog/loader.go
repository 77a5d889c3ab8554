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

// Package catalog seeds the read-only catalog (brokers, services, plans,
// spaces) from a YAML definition file.
package catalog

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/osbkit/provisioner/pkg/apis/services"
	"github.com/osbkit/provisioner/pkg/storage"
)

// Definition is the on-disk catalog layout.
type Definition struct {
	Brokers  []services.ServiceBroker `json:"brokers,omitempty"`
	Services []services.Service       `json:"services,omitempty"`
	Plans    []services.ServicePlan   `json:"plans,omitempty"`
	Spaces   []services.Space         `json:"spaces,omitempty"`
}

// Load reads and parses a catalog definition from path.
func Load(path string) (*Definition, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "while reading catalog file %q", path)
	}
	def := &Definition{}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, errors.Wrapf(err, "while parsing catalog file %q", path)
	}
	return def, nil
}

// Seed loads a definition into the store.
func Seed(store *storage.InMemoryStorage, def *Definition) {
	for i := range def.Brokers {
		store.AddBroker(&def.Brokers[i])
	}
	for i := range def.Services {
		store.AddService(&def.Services[i])
	}
	for i := range def.Plans {
		store.AddPlan(&def.Plans[i])
	}
	for i := range def.Spaces {
		store.AddSpace(&def.Spaces[i])
	}
}

// LoadAndSeed loads the catalog at path into the store.
func LoadAndSeed(path string, store *storage.InMemoryStorage) error {
	def, err := Load(path)
	if err != nil {
		return err
	}
	Seed(store, def)
	return nil
}
