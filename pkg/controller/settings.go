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

import "time"

// Settings tunes the controller's queues and retry budgets. Values are
// loaded from the environment with envconfig; the zero-value fields fall
// back to DefaultSettings.
type Settings struct {
	// PollingInitialInterval is the first requeue delay for an in-progress
	// instance; subsequent delays back off exponentially.
	PollingInitialInterval time.Duration `envconfig:"default=1s"`

	// PollingMaxInterval caps the poll backoff.
	PollingMaxInterval time.Duration `envconfig:"default=2m"`

	// ReconciliationRetryDuration is the wall-clock budget measured from
	// the start of an operation. Once exceeded, polling stops and the
	// operation fails terminally.
	ReconciliationRetryDuration time.Duration `envconfig:"default=168h"`

	// BrokerHTTPTimeout bounds every broker HTTP call.
	BrokerHTTPTimeout time.Duration `envconfig:"default=60s"`

	// OrphanMitigationMaxRetries bounds requeues of a failed asynchronous
	// mitigation before it is abandoned to the logs.
	OrphanMitigationMaxRetries int `envconfig:"default=3"`
}

// DefaultSettings returns the settings used when no environment overrides
// are present.
func DefaultSettings() Settings {
	return Settings{
		PollingInitialInterval:      time.Second,
		PollingMaxInterval:          2 * time.Minute,
		ReconciliationRetryDuration: 168 * time.Hour,
		BrokerHTTPTimeout:           60 * time.Second,
		OrphanMitigationMaxRetries:  3,
	}
}

// reconciliationRetryDurationExceeded reports whether the retry budget for
// an operation started at the given time has been consumed.
func (c *controller) reconciliationRetryDurationExceeded(operationStart time.Time) bool {
	return time.Now().After(operationStart.Add(c.settings.ReconciliationRetryDuration))
}
