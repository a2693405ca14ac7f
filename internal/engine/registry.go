package engine

import (
	"context"
	"sync"
)

// NoticeKind tags what a change notice refers to.
type NoticeKind string

const (
	// NoticeMesa signals a mesa-level change.
	NoticeMesa NoticeKind = "mesa"
	// NoticeComanda signals a comanda-level change.
	NoticeComanda NoticeKind = "comanda"
	// NoticeRefresh signals a full collection replacement.
	NoticeRefresh NoticeKind = "refresh"
)

// Notice is delivered to subscribers after the engine mutated local state.
type Notice struct {
	Kind      NoticeKind
	MesaID    string
	ComandaID string
}

type registrySubscriber struct {
	id     int64
	stream chan Notice
}

// registry fans change notices out to UI collaborators. Slow consumers drop
// notices rather than block the inbound event timeline.
type registry struct {
	mu          sync.Mutex
	subscribers map[int64]*registrySubscriber
	nextID      int64
	bufferSize  int
}

func newRegistry() *registry {
	return &registry{
		subscribers: make(map[int64]*registrySubscriber),
		bufferSize:  32,
	}
}

func (r *registry) subscribe(ctx context.Context) (<-chan Notice, func()) {
	r.mu.Lock()
	r.nextID++
	subscriber := &registrySubscriber{
		id:     r.nextID,
		stream: make(chan Notice, r.bufferSize),
	}
	r.subscribers[subscriber.id] = subscriber
	r.mu.Unlock()

	cleanup := func() {
		r.mu.Lock()
		delete(r.subscribers, subscriber.id)
		r.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (r *registry) publish(notice Notice) {
	r.mu.Lock()
	copies := make([]*registrySubscriber, 0, len(r.subscribers))
	for _, subscriber := range r.subscribers {
		copies = append(copies, subscriber)
	}
	r.mu.Unlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- notice:
		default:
		}
	}
}
