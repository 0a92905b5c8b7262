package service

import (
	"sort"
	"sync"
)

// PresenceRegistry tracks active connection counts per user. A user is
// online while at least one connection is open; multiple tabs or devices
// stack onto the same entry.
type PresenceRegistry struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewPresenceRegistry creates an empty registry.
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{counts: make(map[string]int)}
}

// Connect records a new connection for the user and returns the online set
// plus whether the set changed (true only on the user's first connection).
func (p *PresenceRegistry) Connect(userID string) (online []string, changed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[userID]++
	return p.onlineLocked(), p.counts[userID] == 1
}

// Disconnect records a closed connection. The user leaves the online set
// only when their last connection closes; changed is true exactly then.
// Disconnecting an unknown user is a no-op.
func (p *PresenceRegistry) Disconnect(userID string) (online []string, changed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	count, ok := p.counts[userID]
	if !ok {
		return p.onlineLocked(), false
	}
	if count <= 1 {
		delete(p.counts, userID)
		return p.onlineLocked(), true
	}
	p.counts[userID] = count - 1
	return p.onlineLocked(), false
}

// Online returns the current online user ids.
func (p *PresenceRegistry) Online() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onlineLocked()
}

// IsOnline reports whether the user has at least one open connection.
func (p *PresenceRegistry) IsOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[userID] > 0
}

func (p *PresenceRegistry) onlineLocked() []string {
	online := make([]string, 0, len(p.counts))
	for id := range p.counts {
		online = append(online, id)
	}
	sort.Strings(online)
	return online
}
