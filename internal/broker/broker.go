// Package broker provides the in-memory fan-out hub that keeps every
// connected party (operator consoles, public panels, patient devices) in
// sync. Connections register a channel and receive typed events; delivery is
// best-effort, at-most-once per triggering mutation. A connection that
// misses an event is brought back to consistency by the full snapshot it
// receives when it reconnects.
package broker

import "sync"

// Event names understood by connected clients.
const (
	EventConnected       = "connected"
	EventInitialState    = "initial_state"
	EventQueuesUpdated   = "queues_updated"
	EventTicketCalled    = "ticket_called"
	EventCounterCalled   = "counter_called"
	EventHistoryAppended = "history_appended"
	EventCounterFreed    = "counter_freed"
)

// Event is a named payload delivered to stream connections. Data is
// serialized to JSON at the transport edge.
type Event struct {
	Name string
	Data any
}

// Broker tracks live connections by ID. Channels are buffered; a subscriber
// that cannot keep up has events dropped rather than blocking the publisher.
type Broker struct {
	mu    sync.Mutex
	conns map[string]chan Event
}

// New creates a ready-to-use Broker.
func New() *Broker {
	return &Broker{conns: make(map[string]chan Event)}
}

// Register adds a connection and returns the channel its events arrive on.
// Registering an ID that is already present replaces (and closes) the old
// channel.
func (b *Broker) Register(connectionID string) chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.conns[connectionID]; ok {
		close(old)
	}
	b.conns[connectionID] = ch
	return ch
}

// Unregister removes a connection and closes its channel.
func (b *Broker) Unregister(connectionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.conns[connectionID]; ok {
		delete(b.conns, connectionID)
		close(ch)
	}
}

// Broadcast delivers an event to every connection.
func (b *Broker) Broadcast(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.conns {
		deliver(ch, event)
	}
}

// BroadcastExcept delivers an event to every connection except one. Used by
// resync, where the submitter already holds the state it pushed.
func (b *Broker) BroadcastExcept(exceptID string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.conns {
		if id == exceptID {
			continue
		}
		deliver(ch, event)
	}
}

// Send delivers an event to a single connection. Reports whether the
// connection is currently registered.
func (b *Broker) Send(connectionID string, event Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.conns[connectionID]
	if !ok {
		return false
	}
	deliver(ch, event)
	return true
}

func deliver(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		// Drop if the subscriber is lagging; the connect-time snapshot is
		// the recovery path.
	}
}
