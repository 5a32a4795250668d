package router

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/order-router/internal/domain/order"
)

type fireLog struct {
	mu  sync.Mutex
	ids []order.ID
}

func (f *fireLog) fire(id order.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

func (f *fireLog) fired() []order.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]order.ID(nil), f.ids...)
}

func TestScheduler_Fires(t *testing.T) {
	var log fireLog
	s := NewScheduler(5*time.Millisecond, log.fire)
	defer s.Stop()

	s.Schedule(order.NumberID(1))
	require.Eventually(t, func() bool { return len(log.fired()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_Cancel(t *testing.T) {
	var log fireLog
	s := NewScheduler(20*time.Millisecond, log.fire)
	defer s.Stop()

	s.Schedule(order.NumberID(1))
	assert.True(t, s.Cancel(order.NumberID(1)))
	assert.False(t, s.Cancel(order.NumberID(1)))

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, log.fired())
}

func TestScheduler_RescheduleSupersedes(t *testing.T) {
	var log fireLog
	s := NewScheduler(20*time.Millisecond, log.fire)
	defer s.Stop()

	s.Schedule(order.NumberID(1))
	s.Schedule(order.NumberID(1))
	assert.Equal(t, 1, s.Pending())

	time.Sleep(80 * time.Millisecond)
	assert.Len(t, log.fired(), 1)
}

func TestScheduler_Stop(t *testing.T) {
	var log fireLog
	s := NewScheduler(10*time.Millisecond, log.fire)

	s.Schedule(order.NumberID(1))
	s.Stop()
	s.Schedule(order.NumberID(2))

	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, log.fired())
	assert.Equal(t, 0, s.Pending())
}
