// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"sync"
	"time"

	tokenbucket "golang.org/x/time/rate"
)

// Rate bounds how often an individual message is allowed through a
// rate-limited Logger.
type Rate struct {
	// Limit is the steady-state rate a single distinct message may
	// recur at.
	Limit tokenbucket.Limit
	// Burst is the number of immediate repeats tolerated before Limit
	// kicks in.
	Burst int
	// Window caps how many distinct messages are tracked at once;
	// the oldest tracked message is evicted to make room for a new one.
	Window int
}

const (
	// DefaultWindow is used when a Rate leaves Window unset.
	DefaultWindow = 256
	// MinimumWindow is the smallest Window a Rate is allowed to request.
	MinimumWindow = 32
)

// Every turns an interval into a steady-state Limit.
func Every(interval time.Duration) tokenbucket.Limit {
	return tokenbucket.Every(interval)
}

// Interval builds a Rate that allows one occurrence of a message per
// interval, with no burst allowance -- the shape
// pkg/dispatcher's node-down warning and similar "this keeps failing
// every tick" messages want.
func Interval(interval time.Duration) Rate {
	return Rate{Limit: Every(interval), Burst: 1}
}

// throttled wraps a Logger, tracking a per-message token bucket so a
// caller that logs the same complaint on every tick of a loop (a
// node that stays unreachable, a subset that keeps failing the same
// resize) doesn't flood whatever Backend is listening.
type throttled struct {
	Logger
	rate    Rate
	mu      sync.Mutex
	seen    []string
	buckets map[string]*tokenbucket.Limiter
}

// RateLimit wraps log so that each distinct formatted message is
// subject to rate.
func RateLimit(log Logger, rate Rate) Logger {
	if rate.Window < MinimumWindow {
		rate.Window = DefaultWindow
	}
	if rate.Burst < 1 {
		rate.Burst = 1
	}
	return &throttled{
		Logger:  log,
		rate:    rate,
		seen:    make([]string, 0, rate.Window),
		buckets: make(map[string]*tokenbucket.Limiter),
	}
}

func (t *throttled) Debug(format string, args ...interface{}) {
	t.maybeEmit(t.Logger.Debug, format, args...)
}

func (t *throttled) Info(format string, args ...interface{}) {
	t.maybeEmit(t.Logger.Info, format, args...)
}

func (t *throttled) Warn(format string, args ...interface{}) {
	t.maybeEmit(t.Logger.Warn, format, args...)
}

func (t *throttled) Error(format string, args ...interface{}) {
	t.maybeEmit(t.Logger.Error, format, args...)
}

// maybeEmit formats the message once, checks its bucket, and forwards
// to emit only if the bucket still has a token.
func (t *throttled) maybeEmit(emit func(string, ...interface{}), format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if t.bucketFor(msg).Allow() {
		emit("<rate-limited> %s", msg)
	}
}

// bucketFor returns msg's token bucket, creating one (and evicting the
// oldest tracked message if the window is full) on first sight.
func (t *throttled) bucketFor(msg string) *tokenbucket.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if b, ok := t.buckets[msg]; ok {
		return b
	}

	if len(t.buckets) == t.rate.Window {
		oldest := t.seen[0]
		t.seen = t.seen[1:]
		delete(t.buckets, oldest)
	}
	b := tokenbucket.NewLimiter(t.rate.Limit, t.rate.Burst)
	t.seen = append(t.seen, msg)
	t.buckets[msg] = b
	return b
}
