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

package execution

import "context"

// Invoker calls the backend of a request. A request may carry its own invoker
// in the InternalAttrInvoker attribute to replace the default one.
type Invoker interface {
	ID() string
	Invoke(ctx context.Context, ec *Context) Result
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc struct {
	Name string
	Fn   func(ctx context.Context, ec *Context) Result
}

func (f InvokerFunc) ID() string {
	return f.Name
}

func (f InvokerFunc) Invoke(ctx context.Context, ec *Context) Result {
	return f.Fn(ctx, ec)
}
