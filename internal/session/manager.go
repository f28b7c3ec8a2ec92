// Package session establishes and maintains the customer session the
// backend requires for file registration and checkout. It restores a
// persisted session when one is still inside its validity window and
// creates a fresh one otherwise.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/example/printkiosk/internal/backend"
	"github.com/example/printkiosk/internal/coordinate"
	"github.com/example/printkiosk/internal/events"
	"github.com/example/printkiosk/internal/kvstore"
	"github.com/example/printkiosk/internal/models"
)

// DefaultTTL is the session validity window measured from CreatedAt
const DefaultTTL = 24 * time.Hour

const storeKey = "session"

// State names where the manager is in its lifecycle
type State string

const (
	StateUninitialized  State = "uninitialized"
	StateWaitingForShop State = "waiting-for-shop-open"
	StateInitializing   State = "initializing"
	StateRestored       State = "restored"
	StateCreated        State = "created"
	StateError          State = "error"
)

// ErrNotReady is returned when a session is required before
// initialization has succeeded.
var ErrNotReady = errors.New("session not established")

// ErrShopClosed is returned when initialization runs while the shop is
// not accepting orders.
var ErrShopClosed = errors.New("shop is not accepting orders")

// Manager owns the session lifecycle
type Manager struct {
	api   *backend.API
	store *kvstore.Store
	coord *coordinate.Coordinator
	bus   *events.Bus
	ttl   time.Duration
	now   func() time.Time

	ready *coordinate.Gate
	shop  *coordinate.Gate

	mu      sync.RWMutex
	state   State
	sess    models.Session
	lastErr error
}

// NewManager creates a session manager. A non-positive ttl selects
// DefaultTTL.
func NewManager(api *backend.API, store *kvstore.Store, coord *coordinate.Coordinator, bus *events.Bus, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		api:   api,
		store: store,
		coord: coord,
		bus:   bus,
		ttl:   ttl,
		now:   time.Now,
		ready: coordinate.NewGate(),
		shop:  coordinate.NewGate(),
		state: StateUninitialized,
	}
}

// ShopOpen asks the backend whether the shop is accepting orders.
// Concurrent callers share one request.
func (m *Manager) ShopOpen(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if m.state == StateUninitialized {
		m.state = StateWaitingForShop
	}
	m.mu.Unlock()

	v, err := m.coord.Do(coordinate.KeyShopStatus, func() (interface{}, error) {
		return m.api.ShopStatus(ctx)
	})
	if err != nil {
		return false, err
	}
	open := v.(bool)
	if open {
		m.shop.Open()
		if m.bus != nil {
			m.bus.Publish(events.TopicShopOpen, nil)
		}
	}
	return open, nil
}

// Initialize establishes the session. The shop must be open first: a
// call while it is closed returns ErrShopClosed without touching the
// session endpoints. Once one initialization has succeeded, later
// calls return the held session without touching the network, and
// concurrent calls collapse into a single attempt.
func (m *Manager) Initialize(ctx context.Context) (models.Session, error) {
	if m.ready.IsOpen() {
		return m.Require()
	}

	if !m.shop.IsOpen() {
		open, err := m.ShopOpen(ctx)
		if err != nil {
			return models.Session{}, fmt.Errorf("shop status unavailable: %w", err)
		}
		if !open {
			return models.Session{}, ErrShopClosed
		}
	}

	v, err := m.coord.Do(coordinate.KeySessionInit, func() (interface{}, error) {
		// A racing call may have finished while we queued
		if m.ready.IsOpen() {
			m.mu.RLock()
			defer m.mu.RUnlock()
			return m.sess, nil
		}
		return m.initialize(ctx)
	})
	if err != nil {
		m.mu.Lock()
		m.state = StateError
		m.lastErr = err
		m.mu.Unlock()
		return models.Session{}, err
	}
	return v.(models.Session), nil
}

func (m *Manager) initialize(ctx context.Context) (models.Session, error) {
	m.setState(StateInitializing)

	var stored models.Session
	err := m.store.Get(storeKey, &stored)
	switch {
	case err == nil:
		age := m.now().Sub(stored.CreatedAt)
		if age > m.ttl {
			// Past the validity window, not worth a network call
			if err := m.store.Delete(storeKey); err != nil {
				log.Printf("Failed to drop expired session: %v", err)
			}
			return m.create(ctx)
		}
		return m.restore(ctx, stored)
	case errors.Is(err, kvstore.ErrNotFound), errors.Is(err, kvstore.ErrExpired):
		return m.create(ctx)
	default:
		log.Printf("Failed to read stored session, creating fresh: %v", err)
		return m.create(ctx)
	}
}

// restore confirms a stored session with the backend. A definitive
// rejection discards it; a transient validation failure keeps it, the
// backend settles the question at registration time anyway.
func (m *Manager) restore(ctx context.Context, stored models.Session) (models.Session, error) {
	v, err := m.coord.Do(coordinate.ValidateKey(stored.CustomerUUID), func() (interface{}, error) {
		return m.api.ValidateSession(ctx, stored.CustomerUUID)
	})
	if err != nil {
		log.Printf("Session validation unavailable, keeping stored session: %v", err)
		m.adopt(stored, StateRestored)
		return stored, nil
	}
	if !v.(bool) {
		if err := m.store.Delete(storeKey); err != nil {
			log.Printf("Failed to drop rejected session: %v", err)
		}
		return m.create(ctx)
	}
	m.adopt(stored, StateRestored)
	return stored, nil
}

func (m *Manager) create(ctx context.Context) (models.Session, error) {
	v, err := m.coord.Do(coordinate.KeySessionCreate, func() (interface{}, error) {
		return m.api.CreateSession(ctx)
	})
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	sess := v.(models.Session)
	if err := m.store.Put(storeKey, sess, 0); err != nil {
		log.Printf("Failed to persist session: %v", err)
	}
	m.adopt(sess, StateCreated)
	return sess, nil
}

func (m *Manager) adopt(sess models.Session, state State) {
	m.mu.Lock()
	m.sess = sess
	m.state = state
	m.lastErr = nil
	m.mu.Unlock()

	m.ready.Open()
	if m.bus != nil {
		m.bus.Publish(events.TopicSessionReady, sess)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Require returns the established session or ErrNotReady
func (m *Manager) Require() (models.Session, error) {
	if !m.ready.IsOpen() {
		return models.Session{}, ErrNotReady
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sess, nil
}

// Status reports the lifecycle state and the last initialization error
func (m *Manager) Status() (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.lastErr
}

// Ready returns the latch that opens once a session is established
func (m *Manager) Ready() *coordinate.Gate {
	return m.ready
}

// Refresh discards the held session and runs initialization again
func (m *Manager) Refresh(ctx context.Context) (models.Session, error) {
	m.ready.Reset()
	m.mu.Lock()
	m.state = StateUninitialized
	m.sess = models.Session{}
	m.mu.Unlock()

	return m.Initialize(ctx)
}
