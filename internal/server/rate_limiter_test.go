package server

import (
	"testing"
	"time"
)

func TestRateLimiter_BurstThenReject(t *testing.T) {
	rl := newRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("frame %d rejected inside burst", i)
		}
	}
	if rl.allow() {
		t.Error("frame beyond burst was allowed")
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := newRateLimiter(1, 20*time.Millisecond)

	if !rl.allow() {
		t.Fatal("first frame rejected")
	}
	if rl.allow() {
		t.Fatal("second frame allowed before refill")
	}

	time.Sleep(40 * time.Millisecond)
	if !rl.allow() {
		t.Error("frame rejected after refill interval")
	}
}

func TestRateLimiter_InvalidParametersUseDefaults(t *testing.T) {
	rl := newRateLimiter(0, 0)
	if !rl.allow() {
		t.Error("limiter with defaulted parameters rejected the first frame")
	}
}
