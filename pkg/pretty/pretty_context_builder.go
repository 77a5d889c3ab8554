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

package pretty

import (
	"fmt"

	"github.com/osbkit/provisioner/pkg/apis/services"
)

// Kind is used for the enum of the Type of object we are building context for.
type Kind int

const (
	// ServiceInstance is used for ServiceInstance messages.
	ServiceInstance Kind = iota + 1
	// ServiceBroker is used for ServiceBroker messages.
	ServiceBroker
)

func (k Kind) String() string {
	switch k {
	case ServiceInstance:
		return "ServiceInstance"
	case ServiceBroker:
		return "ServiceBroker"
	default:
		return ""
	}
}

// ContextBuilder allows building up pretty message lines with context that
// is important for debugging and tracing. Pretty lines should be in the
// form: <Kind> "<Name>" (<GUID>): <message>.
type ContextBuilder struct {
	Kind Kind
	Name string
	GUID string
}

// NewContextBuilder returns a new ContextBuilder that can be used to format
// messages. kind, name and guid are all optional.
func NewContextBuilder(kind Kind, name, guid string) *ContextBuilder {
	return &ContextBuilder{
		Kind: kind,
		Name: name,
		GUID: guid,
	}
}

// NewInstanceContextBuilder returns a ContextBuilder for a service instance.
func NewInstanceContextBuilder(instance *services.ServiceInstance) *ContextBuilder {
	return NewContextBuilder(ServiceInstance, instance.Name, instance.GUID)
}

// Message returns a string with message prepended with the current source context.
func (pcb *ContextBuilder) Message(msg string) string {
	if pcb.Kind > 0 || pcb.Name != "" || pcb.GUID != "" {
		return fmt.Sprintf("%s: %s", pcb, msg)
	}
	return msg
}

// Messagef returns a string with message formatted then prepended with the
// current source context.
func (pcb *ContextBuilder) Messagef(format string, a ...interface{}) string {
	return pcb.Message(fmt.Sprintf(format, a...))
}

func (pcb ContextBuilder) String() string {
	s := ""
	space := ""
	if pcb.Kind > 0 {
		s += pcb.Kind.String()
		space = " "
	}
	if pcb.Name != "" && pcb.GUID != "" {
		s += fmt.Sprintf(`%s"%s" (%s)`, space, pcb.Name, pcb.GUID)
	} else if pcb.Name != "" {
		s += fmt.Sprintf(`%s"%s"`, space, pcb.Name)
	} else if pcb.GUID != "" {
		s += fmt.Sprintf(`%s"%s"`, space, pcb.GUID)
	}
	return s
}
