package service

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/rl1809/storefront/internal/core/domain"
)

const DefaultListenerBuffer = 16

// Listener is one subscriber's bounded queue. Events is never closed; Done
// is closed once the listener has been unregistered.
type Listener struct {
	events chan domain.Event
	done   chan struct{}
	once   sync.Once
}

func (l *Listener) Events() <-chan domain.Event {
	return l.events
}

func (l *Listener) Done() <-chan struct{} {
	return l.done
}

func (l *Listener) stop() {
	l.once.Do(func() { close(l.done) })
}

// Broadcaster fans events out to every registered listener without
// blocking. A listener whose queue is full is dropped.
type Broadcaster struct {
	mu        sync.Mutex
	listeners map[*Listener]struct{}
	buffer    int
	logger    zerolog.Logger
}

func NewBroadcaster(buffer int, logger zerolog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultListenerBuffer
	}
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
		buffer:    buffer,
		logger:    logger.With().Str("component", "broadcaster").Logger(),
	}
}

func (b *Broadcaster) Register() *Listener {
	l := &Listener{
		events: make(chan domain.Event, b.buffer),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

func (b *Broadcaster) Unregister(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	l.stop()
}

func (b *Broadcaster) Broadcast(ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for l := range b.listeners {
		select {
		case l.events <- ev:
		default:
			delete(b.listeners, l)
			l.stop()
			b.logger.Warn().Str("kind", string(ev.Kind)).Msg("dropped stale listener")
		}
	}
}

func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
