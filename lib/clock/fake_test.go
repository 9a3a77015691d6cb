// Copyright 2026 The Weft Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := Fake(start)

	ch := c.After(2 * time.Second)

	c.Advance(1 * time.Second)
	select {
	case <-ch:
		t.Fatal("waiter fired before its deadline")
	default:
	}

	c.Advance(1 * time.Second)
	select {
	case at := <-ch:
		want := start.Add(2 * time.Second)
		if !at.Equal(want) {
			t.Errorf("fire time = %v, want %v", at, want)
		}
	default:
		t.Fatal("waiter did not fire at its deadline")
	}
}

func TestFakeAfterImmediateWhenNonPositive(t *testing.T) {
	c := Fake(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeSleepUnblocksOnAdvance(t *testing.T) {
	c := Fake(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	done := make(chan struct{})
	go func() {
		c.Sleep(5 * time.Second)
		close(done)
	}()

	c.WaitForWaiters(1)
	c.Advance(5 * time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}
