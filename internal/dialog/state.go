// Package dialog tracks where each user is in the verification conversation.
package dialog

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateAwaitingCategory
	StateAwaitingService
	StateAwaitingIdentifier
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCategory:
		return "awaiting_category"
	case StateAwaitingService:
		return "awaiting_service"
	case StateAwaitingIdentifier:
		return "awaiting_identifier"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Event int

const (
	EventStart Event = iota
	EventCategorySelected
	EventServiceSelected
	EventBack
	EventIdentifierRejected
	EventSubmitted
	EventCancel
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventCategorySelected:
		return "category_selected"
	case EventServiceSelected:
		return "service_selected"
	case EventBack:
		return "back"
	case EventIdentifierRejected:
		return "identifier_rejected"
	case EventSubmitted:
		return "submitted"
	case EventCancel:
		return "cancel"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

var ErrInvalidTransition = errors.New("invalid dialog transition")

// Next returns the state reached from s on ev.
func Next(s State, ev Event) (State, error) {
	switch ev {
	case EventStart:
		return StateAwaitingCategory, nil
	case EventCancel:
		if s != StateIdle {
			return StateIdle, nil
		}
	case EventCategorySelected:
		if s == StateAwaitingCategory {
			return StateAwaitingService, nil
		}
	case EventServiceSelected:
		if s == StateAwaitingService {
			return StateAwaitingIdentifier, nil
		}
	case EventBack:
		switch s {
		case StateAwaitingService:
			return StateAwaitingCategory, nil
		case StateAwaitingIdentifier:
			return StateAwaitingService, nil
		}
	case EventIdentifierRejected:
		if s == StateAwaitingIdentifier {
			return StateAwaitingIdentifier, nil
		}
	case EventSubmitted:
		if s == StateAwaitingIdentifier {
			return StateIdle, nil
		}
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, s)
}

type Session struct {
	State     State
	Category  string
	ServiceID int64
	UpdatedAt time.Time
}

// Manager keeps one session per user. Sessions untouched for longer than the TTL
// read as idle and are dropped by Sweep.
type Manager struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	sessions map[int64]Session
}

func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[int64]Session),
	}
}

func (m *Manager) Get(userID int64) Session {
	m.mu.RLock()
	session, ok := m.sessions[userID]
	m.mu.RUnlock()
	if !ok || m.expired(session, m.now()) {
		return Session{State: StateIdle}
	}
	return session
}

// Fire applies ev to the user's session. mutate, when set, runs on the new
// session before it is stored. On an invalid transition nothing changes.
func (m *Manager) Fire(userID int64, ev Event, mutate func(*Session)) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	current, ok := m.sessions[userID]
	if !ok || m.expired(current, now) {
		current = Session{State: StateIdle}
	}

	next, err := Next(current.State, ev)
	if err != nil {
		return current, err
	}

	session := current
	session.State = next
	switch next {
	case StateIdle:
		session = Session{State: StateIdle}
	case StateAwaitingCategory:
		session.Category = ""
		session.ServiceID = 0
	case StateAwaitingService:
		session.ServiceID = 0
	}
	if mutate != nil {
		mutate(&session)
	}
	session.UpdatedAt = now

	if session.State == StateIdle {
		delete(m.sessions, userID)
	} else {
		m.sessions[userID] = session
	}
	return session, nil
}

func (m *Manager) Reset(userID int64) {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
}

// Sweep drops expired sessions and reports how many were removed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, session := range m.sessions {
		if m.expired(session, now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) expired(session Session, now time.Time) bool {
	return m.ttl > 0 && now.Sub(session.UpdatedAt) > m.ttl
}
