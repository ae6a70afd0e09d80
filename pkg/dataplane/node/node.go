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

// Package node describes the lifecycle shared by the gateway node and the
// reactors it runs.
package node

import "sync/atomic"

// State is a lifecycle state.
type State int32

const (
	Stopped State = iota
	Starting
	Started
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "STARTING"
	case Started:
		return "STARTED"
	case Stopping:
		return "STOPPING"
	default:
		return "STOPPED"
	}
}

// Node exposes the lifecycle state of the gateway process.
type Node interface {
	LifecycleState() State
}

// Lifecycle is an atomic lifecycle state usable as a Node.
type Lifecycle struct {
	state atomic.Int32
}

func (l *Lifecycle) LifecycleState() State {
	return State(l.state.Load())
}

func (l *Lifecycle) Set(state State) {
	l.state.Store(int32(state))
}

// Transition moves from one state to another, reporting whether the current
// state was from.
func (l *Lifecycle) Transition(from, to State) bool {
	return l.state.CompareAndSwap(int32(from), int32(to))
}
