// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// recorder collects notifications
type recorder struct {
	mu      sync.Mutex
	records []Record
	flushed int
	closed  int
	order   *[]string
	name    string
}

func (r *recorder) Notify(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	if r.order != nil {
		*r.order = append(*r.order, r.name)
	}
	return nil
}

func (r *recorder) Flush(context.Context) error {
	r.flushed++
	if r.order != nil {
		*r.order = append(*r.order, "flush:"+r.name)
	}
	return nil
}

func (r *recorder) Close() error {
	r.closed++
	if r.order != nil {
		*r.order = append(*r.order, "close:"+r.name)
	}
	return nil
}

func (r *recorder) got() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

func newTestManager(capacity int) *Manager {
	tick := epoch
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}
	return NewManager(NewLog(capacity), zerolog.Nop(), WithClock(clock))
}

func TestManager_LowBatteryScenario(t *testing.T) {
	m := newTestManager(DefaultCapacity)
	ctx := context.Background()

	prior, err := m.Publish(ctx, GroupPower, PowerSolarActive)
	require.NoError(t, err)

	power := &recorder{}
	m.Subscribe("power", Groups(GroupPower), power)

	_, err = m.Publish(ctx, GroupGPS, GPSLock)
	require.NoError(t, err)
	rec, err := m.Publish(ctx, GroupPower, PowerLowBattery)
	require.NoError(t, err)

	got := power.got()
	require.Len(t, got, 1)
	require.Equal(t, GroupPower, got[0].Group)
	require.Equal(t, PowerLowBattery, got[0].Code)
	require.Equal(t, rec, got[0])
	require.Greater(t, got[0].Seq, prior.Seq)
}

func TestManager_PublishAppendsAndStamps(t *testing.T) {
	m := newTestManager(4)
	rec, err := m.Publish(context.Background(), GroupSystem, SystemBoot)
	require.NoError(t, err)

	require.Equal(t, uint64(1), rec.Seq)
	require.Equal(t, epoch.Add(time.Second), rec.Time)
	require.Equal(t, []Record{rec}, m.Log().Snapshot())
}

func TestManager_RegistrationOrder(t *testing.T) {
	m := newTestManager(4)
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		m.Subscribe(name, nil, &recorder{name: name, order: &order})
	}

	_, err := m.Publish(context.Background(), GroupClock, ClockChanged)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestManager_FailureIsolation(t *testing.T) {
	m := newTestManager(4)

	m.Subscribe("erroring", nil, SubscriberFunc(func(context.Context, Record) error {
		return errors.New("disk full")
	}))
	m.Subscribe("panicking", nil, SubscriberFunc(func(context.Context, Record) error {
		panic("nil map")
	}))
	healthy := &recorder{}
	m.Subscribe("healthy", nil, healthy)

	for i := 0; i < 3; i++ {
		_, err := m.Publish(context.Background(), GroupComms, CommsMsgSent)
		require.NoError(t, err, "subscriber failures must not reach the publisher")
	}

	require.Len(t, healthy.got(), 3)
	require.Equal(t, map[string]uint64{"erroring": 3, "panicking": 3, "healthy": 0}, m.Failures())

	stats := m.Stats()
	require.Equal(t, uint64(3), stats.Published)
	require.Equal(t, uint64(6), stats.Failures)
	require.Equal(t, uint64(3), stats.Delivered)
	require.Equal(t, 3, stats.Subscribers)
}

func TestManager_RejectsReentrantPublish(t *testing.T) {
	m := newTestManager(4)

	var innerErr error
	m.Subscribe("echo", Groups(GroupPower), SubscriberFunc(func(ctx context.Context, rec Record) error {
		_, innerErr = m.Publish(ctx, GroupPower, PowerNormal)
		return nil
	}))

	_, err := m.Publish(context.Background(), GroupPower, PowerLowBattery)
	require.NoError(t, err)

	require.Error(t, innerErr)
	require.True(t, errors.Is(innerErr, ErrReentrant))
	var re *ReentrancyError
	require.True(t, errors.As(innerErr, &re))
	require.Equal(t, "echo", re.Subscriber)

	require.Equal(t, 1, m.Log().Len(), "the reentrant event must not be appended")
	require.Equal(t, uint64(1), m.Stats().Reentrant)
}

func TestManager_RejectsPublishWithDerivedContext(t *testing.T) {
	m := newTestManager(4)

	var innerErr error
	m.Subscribe("delayed", AnyGroup, SubscriberFunc(func(ctx context.Context, rec Record) error {
		child, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_, innerErr = m.Publish(child, GroupSystem, SystemBoot)
		return nil
	}))

	_, err := m.Publish(context.Background(), GroupPower, PowerLowBattery)
	require.NoError(t, err)
	require.ErrorIs(t, innerErr, ErrReentrant)
	require.Equal(t, 1, m.Log().Len())
}

func TestManager_Unsubscribe(t *testing.T) {
	m := newTestManager(4)
	r := &recorder{}
	s := m.Subscribe("r", nil, r)

	_, _ = m.Publish(context.Background(), GroupSystem, SystemBoot)
	require.True(t, m.Unsubscribe(s))
	require.False(t, m.Unsubscribe(s))
	_, _ = m.Publish(context.Background(), GroupSystem, SystemShutdown)

	require.Len(t, r.got(), 1)
	require.Equal(t, "r", s.Name())
}

func TestManager_Close(t *testing.T) {
	m := newTestManager(4)
	var order []string
	m.Subscribe("storage", nil, &recorder{name: "storage", order: &order})
	m.Subscribe("uplink", nil, &recorder{name: "uplink", order: &order})

	require.NoError(t, m.Close(context.Background()))
	require.Equal(t, []string{"flush:storage", "flush:uplink", "close:storage", "close:uplink"}, order)

	_, err := m.Publish(context.Background(), GroupSystem, SystemShutdown)
	require.ErrorIs(t, err, ErrClosed)

	require.NoError(t, m.Close(context.Background()), "second close is a no-op")
	require.Len(t, order, 4)
}

func TestManager_ConcurrentPublish(t *testing.T) {
	const producers = 6
	const perProducer = 100
	m := newTestManager(producers * perProducer)

	var mu sync.Mutex
	seen := make(map[uint64]bool)
	m.Subscribe("collector", nil, SubscriberFunc(func(_ context.Context, rec Record) error {
		mu.Lock()
		defer mu.Unlock()
		seen[rec.Seq] = true
		return nil
	}))

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(g Group) {
			defer wg.Done()
			em := ForGroup(NewEmitter(m, zerolog.Nop()), g)
			for i := 0; i < perProducer; i++ {
				em.Emit(context.Background(), Code(1))
			}
		}(AllGroups[p%len(AllGroups)])
	}
	wg.Wait()

	require.Len(t, seen, producers*perProducer)
	for seq := uint64(1); seq <= producers*perProducer; seq++ {
		require.True(t, seen[seq], "missing seq %d", seq)
	}
	require.Equal(t, uint64(producers*perProducer), m.Log().LastSeq())
}

func TestEmitter_LogsInsteadOfFailing(t *testing.T) {
	m := newTestManager(4)
	require.NoError(t, m.Close(context.Background()))

	em := NewEmitter(m, zerolog.Nop())
	require.NotPanics(t, func() { em.Emit(context.Background(), GroupSystem, SystemBoot) })
	require.Equal(t, 0, m.Log().Len())

	var nilGroup GroupEmitter
	require.NotPanics(t, func() { nilGroup.Emit(context.Background(), SystemBoot) })
}
