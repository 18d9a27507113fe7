package service

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront/internal/core/domain"
)

func TestBroadcast_DeliversToAllListeners(t *testing.T) {
	b := NewBroadcaster(4, zerolog.Nop())
	l1, l2 := b.Register(), b.Register()

	b.Broadcast(domain.Event{Kind: domain.EventStatus})

	for _, l := range []*Listener{l1, l2} {
		select {
		case ev := <-l.Events():
			assert.Equal(t, domain.EventStatus, ev.Kind)
		default:
			t.Fatal("listener did not receive event")
		}
	}
}

func TestBroadcast_DropsFullListener(t *testing.T) {
	logger, logs := bufferLogger()
	b := NewBroadcaster(1, logger)
	slow, fast := b.Register(), b.Register()

	b.Broadcast(domain.Event{Kind: domain.EventStatus})
	<-fast.Events()
	b.Broadcast(domain.Event{Kind: domain.EventCatalog})

	assert.Equal(t, 1, b.Len())
	select {
	case <-slow.Done():
	default:
		t.Fatal("slow listener should be stopped")
	}
	ev := <-fast.Events()
	assert.Equal(t, domain.EventCatalog, ev.Kind)
	assert.Contains(t, logs.String(), "dropped stale listener")
}

func TestUnregister_IsIdempotent(t *testing.T) {
	b := NewBroadcaster(1, zerolog.Nop())
	l := b.Register()

	b.Unregister(l)
	b.Unregister(l)

	assert.Equal(t, 0, b.Len())
	b.Broadcast(domain.Event{Kind: domain.EventStatus})
	assert.Len(t, l.Events(), 0)
}

func TestBroadcast_ConcurrentRegisterAndBroadcast(t *testing.T) {
	b := NewBroadcaster(64, zerolog.Nop())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l := b.Register()
			time.Sleep(time.Millisecond)
			b.Unregister(l)
		}()
		go func() {
			defer wg.Done()
			b.Broadcast(domain.Event{Kind: domain.EventStatus})
		}()
	}
	wg.Wait()
	require.Equal(t, 0, b.Len())
}
