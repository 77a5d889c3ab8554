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

package brokerapi

import "fmt"

// UnreachableError reports a transport-level failure: the request never got
// a usable HTTP response from the broker.
type UnreachableError struct {
	Op  string
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("broker unreachable during %s: %v", e.Op, e.Err)
}

// Timeout reports whether the underlying transport error was a timeout.
func (e *UnreachableError) Timeout() bool {
	type timeout interface {
		Timeout() bool
	}
	if t, ok := e.Err.(timeout); ok {
		return t.Timeout()
	}
	return false
}

// ProtocolError reports a broker response that violates the contract: a
// malformed body, an unexpected status code, or a 202 when accepts_incomplete
// was not set.
type ProtocolError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("broker protocol error during %s (status %d): %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("broker protocol error during %s: %s", e.Op, e.Message)
}

// IsUnreachable reports whether err is a transport-level broker failure.
func IsUnreachable(err error) (*UnreachableError, bool) {
	e, ok := err.(*UnreachableError)
	return e, ok
}

// IsProtocolError reports whether err is a broker contract violation.
func IsProtocolError(err error) (*ProtocolError, bool) {
	e, ok := err.(*ProtocolError)
	return e, ok
}
