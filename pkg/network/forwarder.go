package network

import (
	"sync"

	"github.com/dbehnke/dmr-nexus/pkg/protocol"
)

// Sender is implemented by each transport dialect (Server, Client,
// OpenBridgeClient) so the bridge router can deliver a rewritten burst
// without knowing which dialect the target endpoint speaks.
type Sender interface {
	SendDMRD(packet *protocol.DMRDPacket) error
}

// Registry dispatches bridge router forwards to the named endpoint's
// transport. It satisfies bridge.Forwarder.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

// NewRegistry creates an empty forwarder registry.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[string]Sender)}
}

// Register associates endpoint name with the transport that can deliver
// bursts to it. Call once per configured system at startup.
func (r *Registry) Register(name string, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[name] = s
}

// Unregister removes an endpoint, e.g. on shutdown or reconnect teardown.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.senders, name)
}

// ForwardDMRD implements bridge.Forwarder.
func (r *Registry) ForwardDMRD(endpoint string, packet *protocol.DMRDPacket) {
	r.mu.RLock()
	s := r.senders[endpoint]
	r.mu.RUnlock()
	if s == nil {
		return
	}
	_ = s.SendDMRD(packet)
}
