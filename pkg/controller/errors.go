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

import "fmt"

// LocalPersistenceError reports a durable-store write failure after the
// broker already reported success. By the time the caller sees this error,
// orphan mitigation has been attempted.
type LocalPersistenceError struct {
	InstanceGUID        string
	MitigationAttempted bool
	Err                 error
}

func (e *LocalPersistenceError) Error() string {
	return fmt.Sprintf(
		"failed to save instance %q after broker success; instance may be orphaned (mitigation attempted: %t): %v",
		e.InstanceGUID, e.MitigationAttempted, e.Err,
	)
}

// IsLocalPersistenceError reports whether err is a post-broker-success save
// failure.
func IsLocalPersistenceError(err error) (*LocalPersistenceError, bool) {
	e, ok := err.(*LocalPersistenceError)
	return e, ok
}
