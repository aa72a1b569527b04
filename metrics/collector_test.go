package metrics

import (
	"sync"
	"testing"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.IncConnectionAccepted()
	c.IncConnectionAccepted()
	c.IncConnectionClosed()
	c.IncOpStarted("get")
	c.IncOpStarted("get")
	c.IncOpStarted("put")
	c.IncOpSucceeded("get")
	c.IncOpFailed("put")
	c.AddBytesSent(4096)
	c.AddBytesSent(100)
	c.AddBytesReceived(42)
	c.IncProtocolError()

	snap := c.Snapshot()
	if snap.ConnectionsAccepted != 2 {
		t.Errorf("ConnectionsAccepted = %d, want 2", snap.ConnectionsAccepted)
	}
	if snap.ConnectionsClosed != 1 {
		t.Errorf("ConnectionsClosed = %d, want 1", snap.ConnectionsClosed)
	}
	if snap.OpsStarted["get"] != 2 || snap.OpsStarted["put"] != 1 {
		t.Errorf("OpsStarted = %v", snap.OpsStarted)
	}
	if snap.OpsSucceeded["get"] != 1 {
		t.Errorf("OpsSucceeded = %v", snap.OpsSucceeded)
	}
	if snap.OpsFailed["put"] != 1 {
		t.Errorf("OpsFailed = %v", snap.OpsFailed)
	}
	if snap.BytesSent != 4196 {
		t.Errorf("BytesSent = %d, want 4196", snap.BytesSent)
	}
	if snap.BytesReceived != 42 {
		t.Errorf("BytesReceived = %d, want 42", snap.BytesReceived)
	}
	if snap.ProtocolErrors != 1 {
		t.Errorf("ProtocolErrors = %d, want 1", snap.ProtocolErrors)
	}
}

func TestNilCollectorSafe(t *testing.T) {
	var c *Collector
	c.IncConnectionAccepted()
	c.IncOpStarted("list")
	c.AddBytesSent(1)
	c.IncProtocolError()

	snap := c.Snapshot()
	if snap.ConnectionsAccepted != 0 {
		t.Errorf("nil collector Snapshot = %+v", snap)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	c := NewCollector()
	c.IncOpStarted("list")

	snap := c.Snapshot()
	snap.OpsStarted["list"] = 99

	if got := c.Snapshot().OpsStarted["list"]; got != 1 {
		t.Errorf("collector mutated through snapshot: %d", got)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncOpStarted("get")
			c.AddBytesSent(10)
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.OpsStarted["get"] != 50 {
		t.Errorf("OpsStarted[get] = %d, want 50", snap.OpsStarted["get"])
	}
	if snap.BytesSent != 500 {
		t.Errorf("BytesSent = %d, want 500", snap.BytesSent)
	}
}
