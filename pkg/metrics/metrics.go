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

// Package metrics creates and registers metrics objects with Prometheus
// and sets the Prometheus HTTP handler for /metrics
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog"
)

var registerMetrics sync.Once

const (
	provisionerNamespace = "provisioner" // Prometheus namespace (nothing to do with k8s namespace)
)

var (
	// ProvisionTotal counts provision attempts by outcome:
	// completed|accepted|failed.
	ProvisionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: provisionerNamespace,
			Name:      "provision_total",
			Help:      "Number of provision attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// PollTotal counts last-operation polls by reported state:
	// in_progress|succeeded|failed|error.
	PollTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: provisionerNamespace,
			Name:      "poll_total",
			Help:      "Number of last-operation polls by reported state.",
		},
		[]string{"state"},
	)

	// OrphanMitigationTotal counts orphan mitigation attempts by outcome:
	// succeeded|failed.
	OrphanMitigationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: provisionerNamespace,
			Name:      "orphan_mitigation_total",
			Help:      "Number of orphan mitigation attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// DashboardRegistrationTotal counts dashboard SSO client registrations
	// by outcome: succeeded|failed.
	DashboardRegistrationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: provisionerNamespace,
			Name:      "dashboard_registration_total",
			Help:      "Number of dashboard client registrations by outcome.",
		},
		[]string{"outcome"},
	)
)

func register() {
	registerMetrics.Do(func() {
		prometheus.MustRegister(ProvisionTotal)
		prometheus.MustRegister(PollTotal)
		prometheus.MustRegister(OrphanMitigationTotal)
		prometheus.MustRegister(DashboardRegistrationTotal)
	})
}

// RegisterMetricsAndInstallHandler registers the provisioner metrics
// objects with Prometheus and installs the Prometheus http handler at the
// default context.
func RegisterMetricsAndInstallHandler(m *http.ServeMux) {
	register()
	m.Handle("/metrics", promhttp.Handler())
	klog.V(4).Info("Registered /metrics with promhttp")
}
