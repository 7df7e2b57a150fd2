package server

import (
	"github.com/laila2005/messaging-system/pkg/codec"
)

// DeliveryListener observes successful sends on the broadcast path. The relay
// core only reports that a message was handed to a connection; rendering or
// any other consumer behavior is outside this boundary.
type DeliveryListener func(recipient Entry, text string)

// Router fans a message out to every registered connection except the
// sender. One recipient's failure never affects delivery to the rest.
type Router struct {
	registry    *Registry
	codec       codec.Codec
	metrics     *Metrics
	onDelivered DeliveryListener
}

// NewRouter wires the broadcast path. metrics and the delivery listener may
// be nil.
func NewRouter(registry *Registry, c codec.Codec, metrics *Metrics) *Router {
	return &Router{
		registry: registry,
		codec:    c,
		metrics:  metrics,
	}
}

// SetDeliveryListener installs an observer for successful sends. Must be set
// before the router is shared between workers.
func (rt *Router) SetDeliveryListener(listener DeliveryListener) {
	rt.onDelivered = listener
}

// Deliver encodes text once and writes it to every snapshot entry whose
// connection is not exclude. A failed recipient is collected, deregistered,
// and closed after the loop; delivery to the remaining recipients proceeds
// regardless. Deliver returns only after every snapshot member has been
// attempted; it guarantees the send was attempted, not that the recipient
// processed it.
func (rt *Router) Deliver(text string, exclude *SafeConn) {
	line, err := rt.codec.Encode([]byte(text))
	if err != nil {
		errorLog.Printf("Broadcast encode failed: %v", err)
		return
	}

	var dead []*SafeConn
	for _, entry := range rt.registry.Snapshot() {
		if entry.Conn == exclude {
			continue
		}
		if err := entry.Conn.WriteLine(line); err != nil {
			debugLog.Printf("Broadcast send to %s failed: %v", entry.Username, err)
			if rt.metrics != nil {
				rt.metrics.RecordSendFailure()
			}
			dead = append(dead, entry.Conn)
			continue
		}
		if rt.metrics != nil {
			rt.metrics.RecordMessageSent()
		}
		if rt.onDelivered != nil {
			rt.onDelivered(entry, text)
		}
	}

	if rt.metrics != nil {
		rt.metrics.RecordBroadcast()
	}

	// Dead connections drop out of the registry here; their own workers
	// notice the closed connection and tear down idempotently.
	for _, conn := range dead {
		rt.registry.Deregister(conn)
		conn.Close()
	}
}

// SendDirect encodes text and writes it to a single connection, bypassing
// the registry. Used for history replay to a newly authenticated client.
func (rt *Router) SendDirect(conn *SafeConn, text string) error {
	line, err := rt.codec.Encode([]byte(text))
	if err != nil {
		return err
	}
	return conn.WriteLine(line)
}
