// Package metrics provides in-process transfer counters.
//
// The Collector accumulates counters for the lifetime of one server instance.
// It is a leaf package with no internal dependencies; the server snapshots it
// at shutdown for a summary log line.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Connections
	ConnectionsAccepted int64
	ConnectionsClosed   int64

	// Operations, keyed by name: list, get, put, resume_get, resume_put, quit
	OpsStarted   map[string]int64
	OpsSucceeded map[string]int64
	OpsFailed    map[string]int64

	// Transfer volume
	BytesSent     int64
	BytesReceived int64

	// Fatal framing failures that closed a connection
	ProtocolErrors int64
}

// Collector accumulates counters for one server instance.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe so
// call sites never have to guard against a missing collector.
type Collector struct {
	mu sync.Mutex

	connectionsAccepted int64
	connectionsClosed   int64

	opsStarted   map[string]int64
	opsSucceeded map[string]int64
	opsFailed    map[string]int64

	bytesSent     int64
	bytesReceived int64

	protocolErrors int64
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		opsStarted:   make(map[string]int64),
		opsSucceeded: make(map[string]int64),
		opsFailed:    make(map[string]int64),
	}
}

// IncConnectionAccepted records an accepted connection.
func (c *Collector) IncConnectionAccepted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectionsAccepted++
	c.mu.Unlock()
}

// IncConnectionClosed records a closed connection.
func (c *Collector) IncConnectionClosed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectionsClosed++
	c.mu.Unlock()
}

// IncOpStarted records the start of an operation by name.
func (c *Collector) IncOpStarted(op string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.opsStarted[op]++
	c.mu.Unlock()
}

// IncOpSucceeded records a successfully completed operation.
func (c *Collector) IncOpSucceeded(op string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.opsSucceeded[op]++
	c.mu.Unlock()
}

// IncOpFailed records an operation that ended with an error frame.
func (c *Collector) IncOpFailed(op string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.opsFailed[op]++
	c.mu.Unlock()
}

// AddBytesSent records outbound file bytes (F frame payloads).
func (c *Collector) AddBytesSent(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.bytesSent += n
	c.mu.Unlock()
}

// AddBytesReceived records inbound file bytes (F frame payloads).
func (c *Collector) AddBytesReceived(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.bytesReceived += n
	c.mu.Unlock()
}

// IncProtocolError records a fatal framing failure.
func (c *Collector) IncProtocolError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.protocolErrors++
	c.mu.Unlock()
}

// Snapshot returns a copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{
			OpsStarted:   map[string]int64{},
			OpsSucceeded: map[string]int64{},
			OpsFailed:    map[string]int64{},
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		ConnectionsAccepted: c.connectionsAccepted,
		ConnectionsClosed:   c.connectionsClosed,
		OpsStarted:          make(map[string]int64, len(c.opsStarted)),
		OpsSucceeded:        make(map[string]int64, len(c.opsSucceeded)),
		OpsFailed:           make(map[string]int64, len(c.opsFailed)),
		BytesSent:           c.bytesSent,
		BytesReceived:       c.bytesReceived,
		ProtocolErrors:      c.protocolErrors,
	}
	for k, v := range c.opsStarted {
		snap.OpsStarted[k] = v
	}
	for k, v := range c.opsSucceeded {
		snap.OpsSucceeded[k] = v
	}
	for k, v := range c.opsFailed {
		snap.OpsFailed[k] = v
	}
	return snap
}
