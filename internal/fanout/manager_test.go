package fanout

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghostbus/internal/domain"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// memSink collects delivered payloads and signals each arrival.
type memSink struct {
	mu       sync.Mutex
	payloads [][]byte
	arrived  chan struct{}
}

func newMemSink() *memSink {
	return &memSink{arrived: make(chan struct{}, 1024)}
}

func (s *memSink) Send(payload []byte) error {
	s.mu.Lock()
	s.payloads = append(s.payloads, payload)
	s.mu.Unlock()
	s.arrived <- struct{}{}
	return nil
}

func (s *memSink) Close() error { return nil }

func (s *memSink) waitFor(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		if len(s.payloads) >= n {
			out := make([][]byte, n)
			copy(out, s.payloads[:n])
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		select {
		case <-s.arrived:
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages", n)
		}
	}
}

// brokenSink fails on every send.
type brokenSink struct{ closed chan struct{} }

func (s *brokenSink) Send([]byte) error { return errors.New("peer gone") }
func (s *brokenSink) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

// stuckSink blocks in Send until released, simulating a wedged peer.
type stuckSink struct{ release chan struct{} }

func (s *stuckSink) Send([]byte) error { <-s.release; return nil }
func (s *stuckSink) Close() error      { return nil }

func status(id string) *domain.VehicleStatus {
	return domain.NewStatus(&domain.PositionReport{
		ID: id, Latitude: 39.7, Longitude: -104.99, RouteID: "R1", Timestamp: 1000,
	}, nil, 1000)
}

func staticSnapshot(statuses ...*domain.VehicleStatus) func() []*domain.VehicleStatus {
	return func() []*domain.VehicleStatus { return statuses }
}

func decode(t *testing.T, payload []byte) (string, json.RawMessage) {
	t.Helper()
	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg.Type, msg.Data
}

func TestAttach_DeliversSnapshotFirst(t *testing.T) {
	m := NewManager(staticSnapshot(status("B1"), status("B2")), 16, testLogger())
	defer m.Close()

	sink := newMemSink()
	_, err := m.Attach(sink)
	require.NoError(t, err)

	payloads := sink.waitFor(t, 1)
	typ, data := decode(t, payloads[0])
	assert.Equal(t, MessageSnapshot, typ)

	var statuses []*domain.VehicleStatus
	require.NoError(t, json.Unmarshal(data, &statuses))
	require.Len(t, statuses, 2)
	seen := map[string]bool{}
	for _, s := range statuses {
		assert.False(t, seen[s.ID], "duplicate %s within snapshot", s.ID)
		seen[s.ID] = true
	}
	assert.True(t, seen["B1"])
	assert.True(t, seen["B2"])
}

func TestBroadcast_ReachesAllObserversInOrder(t *testing.T) {
	m := NewManager(staticSnapshot(), 64, testLogger())
	defer m.Close()

	a, b := newMemSink(), newMemSink()
	_, err := m.Attach(a)
	require.NoError(t, err)
	_, err = m.Attach(b)
	require.NoError(t, err)

	for _, id := range []string{"B1", "B2", "B3"} {
		m.Broadcast(status(id))
	}

	for _, sink := range []*memSink{a, b} {
		payloads := sink.waitFor(t, 4) // snapshot + 3 updates
		typ, _ := decode(t, payloads[0])
		assert.Equal(t, MessageSnapshot, typ)
		for i, wantID := range []string{"B1", "B2", "B3"} {
			typ, data := decode(t, payloads[i+1])
			assert.Equal(t, MessageBusUpdate, typ)
			var s domain.VehicleStatus
			require.NoError(t, json.Unmarshal(data, &s))
			assert.Equal(t, wantID, s.ID)
		}
	}
}

func TestBroadcast_BrokenObserverIsIsolated(t *testing.T) {
	m := NewManager(staticSnapshot(), 16, testLogger())
	defer m.Close()

	broken := &brokenSink{closed: make(chan struct{})}
	healthy := newMemSink()
	_, err := m.Attach(broken)
	require.NoError(t, err)
	_, err = m.Attach(healthy)
	require.NoError(t, err)

	m.Broadcast(status("B1"))

	// The healthy observer still gets snapshot + update promptly.
	payloads := healthy.waitFor(t, 2)
	typ, _ := decode(t, payloads[1])
	assert.Equal(t, MessageBusUpdate, typ)

	// The broken one is detached and closed.
	select {
	case <-broken.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("broken observer was not closed")
	}
	require.Eventually(t, func() bool { return m.Count() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestBroadcast_SlowObserverDetachedOnOverflow(t *testing.T) {
	m := NewManager(staticSnapshot(), 2, testLogger())
	defer m.Close()

	stuck := &stuckSink{release: make(chan struct{})}
	healthy := newMemSink()
	_, err := m.Attach(stuck)
	require.NoError(t, err)
	_, err = m.Attach(healthy)
	require.NoError(t, err)

	// The stuck pump wedges on the snapshot; its queue (size 2) then fills.
	// Broadcasts must keep flowing to the healthy observer and eventually
	// kick the stuck one out rather than block. Each broadcast is paced by
	// the healthy observer so only the stuck queue overflows.
	for i := 0; i < 10; i++ {
		deliveredBefore := time.Now()
		m.Broadcast(status("B1"))
		healthy.waitFor(t, i+2) // snapshot + i+1 updates
		require.Less(t, time.Since(deliveredBefore), time.Second,
			"broadcast must not block on a slow observer")
	}
	require.Eventually(t, func() bool { return m.Count() == 1 },
		2*time.Second, 10*time.Millisecond)
	close(stuck.release)
}

func TestDetach_RemovesObserver(t *testing.T) {
	m := NewManager(staticSnapshot(), 16, testLogger())
	defer m.Close()

	sink := newMemSink()
	id, err := m.Attach(sink)
	require.NoError(t, err)
	require.Equal(t, 1, m.Count())

	m.Detach(id)
	assert.Equal(t, 0, m.Count())

	// Second detach of the same id is a no-op.
	m.Detach(id)

	m.Broadcast(status("B1"))
	time.Sleep(50 * time.Millisecond)
	sink.mu.Lock()
	n := len(sink.payloads)
	sink.mu.Unlock()
	assert.LessOrEqual(t, n, 1, "detached observer must not receive updates")
}

func TestClose_DetachesEveryone(t *testing.T) {
	m := NewManager(staticSnapshot(), 16, testLogger())
	_, err := m.Attach(newMemSink())
	require.NoError(t, err)
	_, err = m.Attach(newMemSink())
	require.NoError(t, err)

	m.Close()
	assert.Equal(t, 0, m.Count())
}
