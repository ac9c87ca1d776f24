// Package session persists established TonConnect sessions so that a dapp
// host can silently resume them across restarts via reconnect.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/tonbridge/tonbridge/tonconnect/proto"
)

// Session records one granted connection between a dapp and the wallet.
type Session struct {
	ClientID    string                   `json:"client_id"`
	ClientName  string                   `json:"client_name,omitempty"`
	ManifestURL string                   `json:"manifest_url"`
	Items       []proto.ConnectItem      `json:"items"`
	Replies     []proto.ConnectItemReply `json:"replies"`
	CreatedAt   time.Time                `json:"created_at"`
	LastSeen    time.Time                `json:"last_seen"`
}

// Store persists sessions keyed by client id. Implementations bound the
// session lifetime with a TTL refreshed by Touch.
type Store interface {
	Put(ctx context.Context, s Session) error
	Get(ctx context.Context, clientID string) (Session, bool, error)
	Delete(ctx context.Context, clientID string) error
	Touch(ctx context.Context, clientID string) error
}

// memoryStore keeps sessions in-process. Used when no Redis is configured
// and in tests.
type memoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]Session
	deadline map[string]time.Time
	now      func() time.Time
}

// NewMemoryStore returns an in-process Store with the given TTL.
func NewMemoryStore(ttl time.Duration) Store {
	return &memoryStore{
		ttl:      ttl,
		sessions: map[string]Session{},
		deadline: map[string]time.Time{},
		now:      time.Now,
	}
}

func (m *memoryStore) Put(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ClientID] = s
	m.deadline[s.ClientID] = m.now().Add(m.ttl)
	return nil
}

func (m *memoryStore) Get(_ context.Context, clientID string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dl, ok := m.deadline[clientID]
	if !ok || m.now().After(dl) {
		delete(m.sessions, clientID)
		delete(m.deadline, clientID)
		return Session{}, false, nil
	}
	return m.sessions[clientID], true, nil
}

func (m *memoryStore) Delete(_ context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, clientID)
	delete(m.deadline, clientID)
	return nil
}

func (m *memoryStore) Touch(_ context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deadline[clientID]; ok {
		m.deadline[clientID] = m.now().Add(m.ttl)
	}
	return nil
}
