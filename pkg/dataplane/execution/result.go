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

import (
	"fmt"
	"net/http"
)

// Failure keys.
const (
	KeyNoEntrypoint       = "NO_ENTRYPOINT_FOUND"
	KeyNoEndpoint         = "NO_ENDPOINT_FOUND"
	KeyRequestTimeout     = "REQUEST_TIMEOUT"
	KeyServiceUnavailable = "SERVICE_UNAVAILABLE"
	KeyInternalError      = "INTERNAL_ERROR"
	KeyPlanUnresolvable   = "GATEWAY_PLAN_UNRESOLVABLE"
	KeyApiKeyInvalid      = "API_KEY_INVALID"
	KeyRateLimitTooMany   = "RATE_LIMIT_TOO_MANY_REQUESTS"
)

// Failure describes why a request was interrupted.
type Failure struct {
	StatusCode  int
	Key         string
	Message     string
	ContentType string
	Parameters  map[string]any
}

func (f *Failure) Error() string {
	if f.Key == "" {
		return fmt.Sprintf("%d %s", f.StatusCode, f.Message)
	}
	return fmt.Sprintf("%d %s: %s", f.StatusCode, f.Key, f.Message)
}

// NewFailure builds a failure whose message defaults to the status text.
func NewFailure(statusCode int, key, message string) *Failure {
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return &Failure{StatusCode: statusCode, Key: key, Message: message}
}

// Result is the outcome of one pipeline stage: continue, interrupt (with or
// without a failure) or an unexpected error.
type Result struct {
	interrupted bool
	failure     *Failure
	err         error
}

// Continue lets the pipeline proceed with the next stage.
func Continue() Result {
	return Result{}
}

// Interrupt stops the remaining request stages without a failure.
func Interrupt() Result {
	return Result{interrupted: true}
}

// InterruptWith stops the remaining request stages with a failure.
func InterruptWith(failure *Failure) Result {
	return Result{interrupted: true, failure: failure}
}

// Fail reports an unexpected error.
func Fail(err error) Result {
	return Result{interrupted: true, err: err}
}

func (r Result) IsContinue() bool {
	return !r.interrupted
}

func (r Result) IsInterrupted() bool {
	return r.interrupted
}

func (r Result) Failure() *Failure {
	return r.failure
}

func (r Result) Err() error {
	return r.err
}

// Recover runs fn, turning a panic into a failed result.
func Recover(fn func() Result) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Fail(fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}
