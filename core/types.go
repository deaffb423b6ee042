package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is the opaque envelope that flows through a pipeline. The core
// never inspects Event; plugins agree on its shape out of band.
type Record struct {
	ID        string
	Event     interface{}
	EventType string
	Timestamp time.Time
	Key       string
}

// NewRecord stamps a fresh Record with a unique ID and the current time.
func NewRecord(eventType string, event interface{}) *Record {
	return &Record{
		ID:        uuid.NewString(),
		Event:     event,
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// Batch is a group of records read together from a Buffer.
type Batch []*Record

// Capability is a bitmask of orthogonal plugin affinities (§4.1, §4.5).
type Capability uint8

const (
	// CapabilitySingleThread requires a dedicated processor instance per
	// worker rather than one instance shared across the pool.
	CapabilitySingleThread Capability = 1 << iota
	// CapabilityPeerForwarding requires the processor be wrapped in the
	// peer-forwarding decorator so same-key events land on one node.
	CapabilityPeerForwarding
)

func (c Capability) Has(flag Capability) bool { return c&flag != 0 }

// Source produces records by writing them into the buffer it is started
// with. Concurrency within a source is the plugin's own business; the
// runtime only supplies a start/stop signal and the write target.
type Source interface {
	Start(ctx context.Context, out Buffer) error
	Stop(ctx context.Context) error
}

// Buffer decouples a source from the processor worker pool. Thread-safe:
// it is the only object concurrently read and written in the runtime.
// Close reports how many records were still queued and unread, so the
// runtime can count them as dropped (§4.7, §7) rather than silently
// discarding them.
type Buffer interface {
	Write(ctx context.Context, batch Batch) error
	Read(ctx context.Context, maxWait time.Duration) (Batch, error)
	Commit(ctx context.Context, batch Batch) error
	Close() (discarded int, err error)
}

// Processor transforms a batch. A processor may optionally implement
// CapabilityHolder to declare single-thread or peer-forwarding affinity,
// and KeyedProcessor to supply the key fields peer forwarding hashes on.
type Processor interface {
	Execute(ctx context.Context, batch Batch) (Batch, error)
}

// CapabilityHolder is implemented by plugins that declare one or more
// Capability flags. Plugins that don't implement it are treated as having
// no special affinity (shared instance, no peer forwarding).
type CapabilityHolder interface {
	Capabilities() Capability
}

// KeyedProcessor is implemented by processors that declare
// CapabilityPeerForwarding; KeyFields names the record attributes the
// processor keys its state on. The peer-forwarding decorator does not
// read KeyFields: it always hashes Record.Key to pick the owning peer.
type KeyedProcessor interface {
	Processor
	KeyFields() []string
}

// Sink emits a batch to an external system. Sinks may fail; failures are
// logged and counted by the runtime, not propagated to other sinks.
type Sink interface {
	Output(ctx context.Context, batch Batch) error
}

// PluginKind identifies which of the four contracts a PluginSpec builds.
type PluginKind int

const (
	KindSource PluginKind = iota
	KindBuffer
	KindProcessor
	KindSink
)

func (k PluginKind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindBuffer:
		return "buffer"
	case KindProcessor:
		return "processor"
	case KindSink:
		return "sink"
	default:
		return "unknown"
	}
}
