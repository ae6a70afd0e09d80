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

package error

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an error struct for errors raised while serving or deploying apis.
type Error struct {
	Code string
	Msg  string
}

const (
	Unknown            = "Unknown"
	BadRequest         = "BadRequest"
	Unauthorized       = "Unauthorized"
	NotFound           = "NotFound"
	TooManyRequests    = "TooManyRequests"
	Internal           = "Internal"
	BadGateway         = "BadGateway"
	ServiceUnavailable = "ServiceUnavailable"
	GatewayTimeout     = "GatewayTimeout"
	BadConfiguration   = "BadConfiguration"
)

// Error returns a string version of the error.
func (e Error) Error() string {
	return fmt.Sprintf("gateway: %s - %s", e.Code, e.Msg)
}

// CanonicalCode returns the error's ErrorCode.
func CanonicalCode(err error) string {
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// CodeForStatus maps an HTTP status code to the closest canonical code.
func CodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return BadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return Unauthorized
	case http.StatusNotFound:
		return NotFound
	case http.StatusTooManyRequests:
		return TooManyRequests
	case http.StatusBadGateway:
		return BadGateway
	case http.StatusServiceUnavailable:
		return ServiceUnavailable
	case http.StatusGatewayTimeout:
		return GatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		return Internal
	}
	return Unknown
}

// HTTPStatus returns the HTTP status a canonical code is served with.
func HTTPStatus(code string) int {
	switch code {
	case BadRequest, BadConfiguration:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case NotFound:
		return http.StatusNotFound
	case TooManyRequests:
		return http.StatusTooManyRequests
	case BadGateway:
		return http.StatusBadGateway
	case ServiceUnavailable:
		return http.StatusServiceUnavailable
	case GatewayTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
