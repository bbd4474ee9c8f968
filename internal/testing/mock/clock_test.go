package mock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock_Now(t *testing.T) {
	before := time.Now()
	got := RealClock{}.Now()
	assert.False(t, got.Before(before))
	assert.False(t, got.After(time.Now()))
}

func TestNewMockClock_ZeroStartsAtEpoch(t *testing.T) {
	assert.True(t, NewMockClock(time.Time{}).Now().Equal(Epoch))
}

func TestMockClock_NeverRunsBackwards(t *testing.T) {
	clock := NewMockClock(Epoch)

	clock.Advance(90 * time.Minute)
	assert.True(t, clock.Now().Equal(Epoch.Add(90*time.Minute)))

	clock.Advance(-time.Hour)
	clock.AdvanceTo(Epoch)
	assert.True(t, clock.Now().Equal(Epoch.Add(90*time.Minute)))

	later := Epoch.Add(24 * time.Hour)
	clock.AdvanceTo(later)
	assert.True(t, clock.Now().Equal(later))
}

func TestMockClock_AdvancePast(t *testing.T) {
	clock := NewMockClock(Epoch)
	deadline := Epoch.Add(5 * time.Minute)

	clock.AdvanceTo(deadline)
	assert.False(t, clock.Now().After(deadline), "at the deadline the token is still valid")

	clock.AdvancePast(deadline)
	assert.True(t, clock.Now().After(deadline))
	assert.Equal(t, time.Nanosecond, clock.Now().Sub(deadline))
}

func TestMockClock_ConcurrentAccess(t *testing.T) {
	clock := NewMockClock(Epoch)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
		}()
		go func() {
			defer wg.Done()
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.True(t, clock.Now().Equal(Epoch.Add(50*time.Second)))
}
