// Package trunk manages outbound egress peers: SIP proxies this bridge can
// route calls to, with per-trunk concurrency limits and call-origination
// rate limiting.
package trunk

import (
	"sync"

	"golang.org/x/time/rate"
)

// Credentials holds optional outbound auth material for a trunk that
// requires registration or digest auth toward the upstream proxy.
type Credentials struct {
	Username string
	Password string
	Realm    string
}

// Trunk is an outbound/inbound egress peer.
type Trunk struct {
	mu sync.Mutex

	ID                string
	ProxyAddress      string
	ProxyPort         int
	Transport         string // UDP, TCP
	Creds             *Credentials
	SupportsInbound   bool
	SupportsOutbound  bool
	MaxConcurrentCalls int
	CallsPerSecond    float64
	PreferredCodecs   []string // ordered preference, e.g. ["PCMU", "PCMA"]

	activeCalls int
	limiter     *rate.Limiter

	// Health tracking, updated by the OPTIONS ping loop.
	reachable     bool
	lastPingRTT   int64 // milliseconds
	consecutiveFailures int
}

// New creates a Trunk with its token-bucket origination limiter sized from
// CallsPerSecond (burst equal to one second's worth of calls, minimum 1).
func New(id, proxyAddress string, proxyPort int, transport string, callsPerSecond float64, maxConcurrent int) *Trunk {
	burst := int(callsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Trunk{
		ID:                 id,
		ProxyAddress:       proxyAddress,
		ProxyPort:          proxyPort,
		Transport:          transport,
		MaxConcurrentCalls: maxConcurrent,
		CallsPerSecond:     callsPerSecond,
		limiter:            rate.NewLimiter(rate.Limit(callsPerSecond), burst),
		reachable:          true,
	}
}

// TryOriginate checks the per-trunk rate limiter and concurrent-call cap
// together, admitting the call only if both allow it. Call Release when the
// call ends.
func (t *Trunk) TryOriginate() bool {
	if !t.limiter.Allow() {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.MaxConcurrentCalls > 0 && t.activeCalls >= t.MaxConcurrentCalls {
		return false
	}
	t.activeCalls++
	return true
}

// Release decrements the active call counter for this trunk.
func (t *Trunk) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.activeCalls > 0 {
		t.activeCalls--
	}
}

// ActiveCalls returns the current number of calls attributed to this trunk.
func (t *Trunk) ActiveCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeCalls
}

// SetHealth records the outcome of an OPTIONS health-check ping.
func (t *Trunk) SetHealth(reachable bool, rttMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reachable = reachable
	t.lastPingRTT = rttMs
	if reachable {
		t.consecutiveFailures = 0
	} else {
		t.consecutiveFailures++
	}
}

// Reachable reports the trunk's last-known health state.
func (t *Trunk) Reachable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reachable
}

// ConsecutiveFailures returns how many health checks have failed in a row.
func (t *Trunk) ConsecutiveFailures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutiveFailures
}

// Registry holds all configured trunks and selects outbound candidates by
// ordered preference.
type Registry struct {
	mu     sync.RWMutex
	trunks map[string]*Trunk
	order  []string // insertion order == preference order
}

// NewRegistry creates an empty trunk registry.
func NewRegistry() *Registry {
	return &Registry{trunks: make(map[string]*Trunk)}
}

// Add registers a trunk, appending it to the preference order.
func (r *Registry) Add(t *Trunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.trunks[t.ID]; !exists {
		r.order = append(r.order, t.ID)
	}
	r.trunks[t.ID] = t
}

// Get looks up a trunk by ID.
func (r *Registry) Get(id string) (*Trunk, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trunks[id]
	return t, ok
}

// SelectOutbound returns the first outbound-capable, reachable trunk in
// preference order, or nil if none qualifies. It does not check the rate
// limiter or concurrency cap; TryOriginate does that.
func (r *Registry) SelectOutbound() *Trunk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		t := r.trunks[id]
		if t == nil || !t.SupportsOutbound || !t.Reachable() {
			continue
		}
		return t
	}
	return nil
}

// All returns a snapshot of all registered trunks.
func (r *Registry) All() []*Trunk {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Trunk, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.trunks[id])
	}
	return out
}

// Remove unregisters a trunk by ID.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trunks[id]; !ok {
		return
	}
	delete(r.trunks, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
