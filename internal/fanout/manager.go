// Package fanout delivers vehicle status changes to live observers. Observers
// are modeled as a send capability rather than a concrete connection type, so
// the manager is transport-agnostic and unit-testable with in-memory sinks.
package fanout

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ghostbus/internal/domain"
	"ghostbus/internal/metrics"
)

// Sink receives one marshaled message at a time, in order. A Sink that
// returns an error is detached and closed; it is never retried.
type Sink interface {
	Send(payload []byte) error
	Close() error
}

// Message is the wire shape pushed to observers: a full snapshot on attach,
// then one bus_update per state change.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	MessageSnapshot  = "snapshot"
	MessageBusUpdate = "bus_update"
)

// DefaultQueueSize bounds the per-subscriber backlog before a slow observer
// is detached.
const DefaultQueueSize = 256

type subscription struct {
	id    uuid.UUID
	sink  Sink
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() {
		close(s.done)
		s.sink.Close()
	})
}

// Manager tracks attached observers and broadcasts every applied status to
// all of them in a single global order. Each subscriber drains its own
// bounded queue on its own goroutine, so one slow or broken observer never
// stalls the broadcaster or its peers.
type Manager struct {
	mu        sync.Mutex
	subs      map[uuid.UUID]*subscription
	snapshot  func() []*domain.VehicleStatus
	queueSize int
	log       *logrus.Logger
}

func NewManager(snapshot func() []*domain.VehicleStatus, queueSize int, log *logrus.Logger) *Manager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Manager{
		subs:      make(map[uuid.UUID]*subscription),
		snapshot:  snapshot,
		queueSize: queueSize,
		log:       log,
	}
}

// Attach registers a sink and queues its snapshot. The snapshot is captured
// and the subscription registered under the broadcast lock, so any apply
// committing after the capture reaches the observer as a later bus_update:
// no gap, and nothing is duplicated within the snapshot itself.
func (m *Manager) Attach(sink Sink) (uuid.UUID, error) {
	sub := &subscription{
		id:    uuid.New(),
		sink:  sink,
		queue: make(chan []byte, m.queueSize),
		done:  make(chan struct{}),
	}

	m.mu.Lock()
	statuses := m.snapshot()
	payload, err := json.Marshal(Message{Type: MessageSnapshot, Data: statuses})
	if err != nil {
		m.mu.Unlock()
		return uuid.Nil, err
	}
	m.subs[sub.id] = sub
	// Fresh queue, guaranteed room: the snapshot is always message one.
	sub.queue <- payload
	m.mu.Unlock()

	go m.pump(sub)

	m.log.WithFields(logrus.Fields{
		"subscription": sub.id,
		"vehicles":     len(statuses),
	}).Info("observer attached")
	return sub.id, nil
}

// Broadcast queues an update for every attached observer. Enqueueing happens
// under the manager lock so concurrent broadcasts reach all observers in the
// same order; an observer whose queue is full is detached rather than waited
// on.
func (m *Manager) Broadcast(status *domain.VehicleStatus) {
	payload, err := json.Marshal(Message{Type: MessageBusUpdate, Data: status})
	if err != nil {
		m.log.WithError(err).Error("marshal bus_update failed")
		return
	}

	var overflowed []*subscription

	m.mu.Lock()
	for _, sub := range m.subs {
		select {
		case sub.queue <- payload:
		default:
			overflowed = append(overflowed, sub)
		}
	}
	for _, sub := range overflowed {
		delete(m.subs, sub.id)
	}
	m.mu.Unlock()

	for _, sub := range overflowed {
		metrics.SubscriberDrops.Add(1)
		m.log.WithField("subscription", sub.id).Warn("observer queue full, detaching")
		sub.close()
	}
	metrics.BroadcastsSent.Add(1)
}

// Detach removes and closes one subscription. Unknown ids are a no-op.
func (m *Manager) Detach(id uuid.UUID) {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		delete(m.subs, id)
	}
	m.mu.Unlock()

	if ok {
		sub.close()
		m.log.WithField("subscription", id).Info("observer detached")
	}
}

// Count returns the number of attached observers.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Close detaches every observer.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subs = make(map[uuid.UUID]*subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// pump drains one subscriber's queue sequentially, preserving per-connection
// order. A failed send detaches only this subscriber.
func (m *Manager) pump(sub *subscription) {
	for {
		select {
		case payload := <-sub.queue:
			if err := sub.sink.Send(payload); err != nil {
				metrics.DeliveryFailures.Add(1)
				m.log.WithFields(logrus.Fields{
					"subscription": sub.id,
					"error":        err,
				}).Warn("observer send failed, detaching")
				m.Detach(sub.id)
				return
			}
		case <-sub.done:
			return
		}
	}
}
