// Copyright 2025 Tom Barlow
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

package server

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(5, 2)

	for i := 0; i < 5; i++ {
		if !rl.AllowCall() {
			t.Fatalf("call %d denied within budget", i+1)
		}
	}
	if rl.AllowCall() {
		t.Error("call beyond budget should be denied")
	}
}

func TestRateLimiter_SeparateWriteBudget(t *testing.T) {
	rl := NewRateLimiter(100, 2)

	if !rl.AllowWrite() || !rl.AllowWrite() {
		t.Fatal("writes within budget denied")
	}
	if rl.AllowWrite() {
		t.Error("write beyond budget should be denied")
	}
	// The call budget is untouched by write denials.
	if !rl.AllowCall() {
		t.Error("call budget should be independent of write budget")
	}
}

func TestTokenBucket_Refills(t *testing.T) {
	// 600 per minute = 10 per second, so a 200ms wait restores ~2 tokens.
	tb := &tokenBucket{
		tokens:     0,
		maxTokens:  600,
		refillRate: 10,
		lastRefill: time.Now(),
	}

	if tb.take(1) {
		t.Fatal("empty bucket should deny")
	}
	time.Sleep(200 * time.Millisecond)
	if !tb.take(1) {
		t.Error("bucket should refill over time")
	}
}

func TestTokenBucket_CapsAtMax(t *testing.T) {
	tb := &tokenBucket{
		tokens:     5,
		maxTokens:  5,
		refillRate: 1000,
		lastRefill: time.Now().Add(-time.Minute),
	}

	for i := 0; i < 5; i++ {
		if !tb.take(1) {
			t.Fatalf("take %d denied, refill should cap at max not drop below", i+1)
		}
	}
	if tb.take(1) {
		t.Error("take beyond max should be denied")
	}
}
