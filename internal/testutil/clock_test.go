package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestClock_StartsAtStart(t *testing.T) {
	clock := NewClock(epoch, time.Second)
	assert.Equal(t, epoch, clock.Current())
}

func TestClock_NowAdvancesBySteps(t *testing.T) {
	clock := NewClock(epoch, time.Second)

	assert.Equal(t, epoch.Add(time.Second), clock.Now())
	assert.Equal(t, epoch.Add(2*time.Second), clock.Now())
	assert.Equal(t, epoch.Add(2*time.Second), clock.Current())
}

func TestClock_Fixed(t *testing.T) {
	clock := FixedClock(epoch)
	assert.Equal(t, epoch, clock.Now())
	assert.Equal(t, epoch, clock.Now())
}

func TestClock_Reset(t *testing.T) {
	clock := NewClock(epoch, time.Minute)
	clock.Now()
	clock.Now()

	clock.Reset()
	assert.Equal(t, epoch, clock.Current())
	assert.Equal(t, epoch.Add(time.Minute), clock.Now())
}

func TestClock_ThreadSafe(t *testing.T) {
	clock := NewClock(epoch, time.Millisecond)
	const goroutines = 50
	const calls = 100

	var wg sync.WaitGroup
	seen := make(chan time.Time, goroutines*calls)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				seen <- clock.Now()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[time.Time]bool)
	for ts := range seen {
		unique[ts] = true
	}
	assert.Len(t, unique, goroutines*calls, "every call gets a distinct time")
	assert.Equal(t, epoch.Add(goroutines*calls*time.Millisecond), clock.Current())
}
