// Package peerstub provides an in-process core.PeerTransport, standing in
// for a real network RPC implementation of the forward/receive contract
// spec §6 describes ("Peer-forwarding RPC (consumed)").
package peerstub

import (
	"context"
	"fmt"
	"sync"

	"github.com/forrest/flowmesh/core"
)

// Transport is a core.PeerTransport backed by in-memory channels shared
// between every peer registered on the same Cluster. It is meant for a
// single process hosting several simulated peers (tests, local
// multi-pipeline demos) — a real deployment would replace this with a
// gRPC or HTTP client/server pair implementing the same interface.
type Transport struct {
	peerID  string
	cluster *Cluster
}

// Cluster is the shared registry every Transport in the same process
// reads and writes through. It plays the role the teacher's
// ExecutionEngine interface plays for Run: a narrow seam with one
// concrete in-process implementation that a networked one could later
// replace without changing core.
type Cluster struct {
	mu     sync.Mutex
	inbox  map[string]chan core.Batch
}

// NewCluster creates an empty cluster with no registered peers.
func NewCluster() *Cluster {
	return &Cluster{inbox: make(map[string]chan core.Batch)}
}

// Join registers peerID with the cluster and returns its Transport. Join
// is idempotent for a given peerID: calling it twice returns a Transport
// sharing the same inbox.
func (c *Cluster) Join(peerID string) *Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inbox[peerID]; !ok {
		c.inbox[peerID] = make(chan core.Batch, 256)
	}
	return &Transport{peerID: peerID, cluster: c}
}

// Peers returns every peer ID currently joined to the cluster.
func (c *Cluster) Peers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.inbox))
	for id := range c.inbox {
		out = append(out, id)
	}
	return out
}

// Forward implements core.PeerTransport: it delivers batch directly into
// peerID's inbox. Returns an error if peerID has never joined the
// cluster or its inbox is saturated, both of which the decorator's
// retry/backoff loop treats as a transient forwarding failure (§4.5).
func (t *Transport) Forward(ctx context.Context, peerID string, batch core.Batch) error {
	t.cluster.mu.Lock()
	ch, ok := t.cluster.inbox[peerID]
	t.cluster.mu.Unlock()
	if !ok {
		return fmt.Errorf("peerstub: unknown peer %q", peerID)
	}

	select {
	case ch <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("peerstub: peer %q inbox full", peerID)
	}
}

// Receive implements core.PeerTransport: it blocks until a batch
// forwarded to this peer arrives, or ctx is canceled.
func (t *Transport) Receive(ctx context.Context) (core.Batch, error) {
	t.cluster.mu.Lock()
	ch := t.cluster.inbox[t.peerID]
	t.cluster.mu.Unlock()

	select {
	case batch := <-ch:
		return batch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
