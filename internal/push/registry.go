package push

import "sync"

// Channel is one open push connection. The transport owns its lifetime.
type Channel interface {
	// Writable reports whether Send can currently succeed.
	Writable() bool
	// Send delivers one encoded message.
	Send(data []byte) error
}

// Registry maps identities to their live channels.
// A channel belongs to at most one identity; empty sets are removed.
type Registry struct {
	mu         sync.Mutex
	byIdentity map[int64]map[Channel]struct{}
	owner      map[Channel]int64
}

func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[int64]map[Channel]struct{}),
		owner:      make(map[Channel]int64),
	}
}

// Register adds ch under identity, detaching it from any previous identity.
func (r *Registry) Register(identity int64, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owner[ch]; ok {
		if prev == identity {
			return
		}
		r.detachLocked(prev, ch)
	}

	set, ok := r.byIdentity[identity]
	if !ok {
		set = make(map[Channel]struct{})
		r.byIdentity[identity] = set
	}
	set[ch] = struct{}{}
	r.owner[ch] = identity
	r.observeLocked()
}

// Unregister removes ch from whichever identity holds it. Unknown channels
// are ignored.
func (r *Registry) Unregister(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.owner[ch]
	if !ok {
		return
	}
	r.detachLocked(identity, ch)
	r.observeLocked()
}

// ChannelsFor returns a snapshot of the live channels of identity.
func (r *Registry) ChannelsFor(identity int64) []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.byIdentity[identity]
	out := make([]Channel, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	return out
}

// IdentityOf reports the identity ch is registered under.
func (r *Registry) IdentityOf(ch Channel) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.owner[ch]
	return id, ok
}

// Len is the number of identities with at least one live channel.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byIdentity)
}

func (r *Registry) detachLocked(identity int64, ch Channel) {
	delete(r.owner, ch)
	set := r.byIdentity[identity]
	delete(set, ch)
	if len(set) == 0 {
		delete(r.byIdentity, identity)
	}
}

func (r *Registry) observeLocked() {
	connectedIdentities.Set(float64(len(r.byIdentity)))
	connectedChannels.Set(float64(len(r.owner)))
}
