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

// Package ratelimit limits the request rate of each consuming application
// with a token bucket.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/execution"
	"sigs.k8s.io/gateway-api-dataplane/pkg/dataplane/policy"
)

const (
	RateLimitPolicyType = "rate-limit"

	LimitHeader     = "X-Rate-Limit-Limit"
	RemainingHeader = "X-Rate-Limit-Remaining"
)

type Config struct {
	// Limit is the number of requests allowed per period.
	Limit int `json:"limit"`
	// Period defaults to one second.
	Period metav1.Duration `json:"period,omitempty"`
	// Burst defaults to Limit.
	Burst int `json:"burst,omitempty"`
}

// RateLimit keeps one token bucket per application, requests without an
// application sharing a single bucket.
type RateLimit struct {
	config Config
	every  rate.Limit

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

var _ policy.RequestPolicy = &RateLimit{}

// RateLimitFactory defines the factory function for RateLimit.
func RateLimitFactory(_ context.Context, configuration json.RawMessage) (policy.Policy, error) {
	config := Config{}
	if len(configuration) > 0 {
		if err := json.Unmarshal(configuration, &config); err != nil {
			return nil, fmt.Errorf("failed to parse the configuration of the '%s' policy: %w", RateLimitPolicyType, err)
		}
	}
	return New(config)
}

func New(config Config) (*RateLimit, error) {
	if config.Limit <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %d", config.Limit)
	}
	if config.Period.Duration <= 0 {
		config.Period.Duration = time.Second
	}
	if config.Burst <= 0 {
		config.Burst = config.Limit
	}
	return &RateLimit{
		config:   config,
		every:    rate.Every(config.Period.Duration / time.Duration(config.Limit)),
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

func (r *RateLimit) ID() string {
	return RateLimitPolicyType
}

func (r *RateLimit) limiter(key string) *rate.Limiter {
	r.mu.RLock()
	lim, ok := r.limiters[key]
	r.mu.RUnlock()
	if ok {
		return lim
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if lim, ok = r.limiters[key]; !ok {
		lim = rate.NewLimiter(r.every, r.config.Burst)
		r.limiters[key] = lim
	}
	return lim
}

func (r *RateLimit) OnRequest(_ context.Context, ec *execution.Context) execution.Result {
	lim := r.limiter(ec.StringAttribute(execution.AttrApplication))
	allowed := lim.Allow()

	headers := ec.Response().Headers
	headers.Set(LimitHeader, strconv.Itoa(r.config.Limit))
	headers.Set(RemainingHeader, strconv.Itoa(int(math.Max(0, math.Floor(lim.Tokens())))))
	if !allowed {
		return execution.InterruptWith(execution.NewFailure(http.StatusTooManyRequests, execution.KeyRateLimitTooMany,
			fmt.Sprintf("Rate limit exceeded! You reach the limit of %d requests per %s", r.config.Limit, r.config.Period.Duration)))
	}
	return execution.Continue()
}
