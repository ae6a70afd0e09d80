/*
Copyright 2025 The Kubernetes Authors.

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

package v1alpha1

import "encoding/json"

// Flow is an ordered list of policy steps per phase.
type Flow struct {
	// +optional
	Name string `json:"name,omitempty"`

	// Enabled defaults to true.
	//
	// +optional
	Enabled *bool `json:"enabled,omitempty"`

	// Request steps run in the REQUEST phase.
	//
	// +optional
	Request []Step `json:"request,omitempty"`

	// Response steps run in the RESPONSE phase.
	//
	// +optional
	Response []Step `json:"response,omitempty"`

	// Publish steps run in the MESSAGE_REQUEST phase of message apis.
	//
	// +optional
	Publish []Step `json:"publish,omitempty"`

	// Subscribe steps run in the MESSAGE_RESPONSE phase of message apis.
	//
	// +optional
	Subscribe []Step `json:"subscribe,omitempty"`
}

// Step is one policy execution within a flow.
type Step struct {
	// +optional
	Name string `json:"name,omitempty"`

	// Policy selects the policy factory.
	//
	// +required
	Policy string `json:"policy"`

	// Enabled defaults to true.
	//
	// +optional
	Enabled *bool `json:"enabled,omitempty"`

	// +optional
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// IsEnabled reports whether the flow should be executed.
func (f *Flow) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// IsEnabled reports whether the step should be executed.
func (s *Step) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// IsEnabled reports whether the resource should be started.
func (r *Resource) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}
