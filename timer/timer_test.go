package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerManager_OneShot(t *testing.T) {
	m := NewTimerManager(5 * time.Millisecond)
	defer m.Stop()

	var calls int32
	m.AddTimer("once", 10*time.Millisecond, 0, func() { atomic.AddInt32(&calls, 1) })

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 0, m.Len())
}

func TestTimerManager_Every(t *testing.T) {
	m := NewTimerManager(5 * time.Millisecond)
	defer m.Stop()

	var calls int32
	id := m.Every("sweep", 10*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, time.Second, 5*time.Millisecond)

	m.RemoveTimer(id)
	assert.Equal(t, 0, m.Len())
}

func TestTimerManager_RemoveBeforeRun(t *testing.T) {
	m := NewTimerManager(5 * time.Millisecond)
	defer m.Stop()

	var calls int32
	id := m.AddTimer("cancelled", 50*time.Millisecond, 0, func() { atomic.AddInt32(&calls, 1) })
	m.RemoveTimer(id)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestTimerManager_PanicDoesNotStopOthers(t *testing.T) {
	m := NewTimerManager(5 * time.Millisecond)
	defer m.Stop()

	var calls int32
	m.AddTimer("bad", 5*time.Millisecond, 0, func() { panic("boom") })
	m.Every("good", 10*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, time.Second, 5*time.Millisecond)
}

func TestTimerManager_StopTwice(t *testing.T) {
	m := NewTimerManager(0)
	m.Stop()
	m.Stop()
}
