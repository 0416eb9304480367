// Package session tracks active B2BUA call sessions: the pairing of an
// A-leg (caller-facing) and B-leg (callee-facing) SIP dialog under one
// opaque session id, with the state machine the B2BUA core drives them
// through.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/rustalk/sbc/internal/sdpnego"
)

// State is a session's position in the call lifecycle.
type State string

const (
	StateInitial     State = "initial"
	StateRinging     State = "ringing"
	StateEstablished State = "established"
	StateTerminating State = "terminating"
	StateTerminated  State = "terminated"
)

// Leg holds the SIP-level identifiers and transaction handles for one side
// of a session.
type Leg struct {
	RemoteAddr string
	FromTag    string
	ToTag      string
	Contact    string
	SDP        *sdpnego.SessionDescription

	Tx  sip.ClientTransaction // set for the B-leg, which we originate
	Req *sip.Request
	Res *sip.Response
}

// Session is one B2BUA-managed call: two SIP dialogs (A-leg and B-leg)
// joined by a session id, with the lifecycle state the protocol core
// drives through Initial -> Ringing -> Established; Store.Remove sets
// Terminated. StateTerminating is defined but the core never enters it.
type Session struct {
	ID     string
	CallID string
	State  State

	A Leg
	B Leg

	StartTime     time.Time
	AnswerTime    time.Time
	EndTime       time.Time
	SessionExpiry time.Duration // Session-Expires value; 0 = disabled. The B2BUA core never sets it.

	HangupCause string
}

// NewID generates an opaque session identifier.
func NewID() string {
	return uuid.New().String()
}

// Store is the concurrency-safe registry of active sessions, indexed by
// both session id and Call-ID (a session's A-leg Call-ID is its primary
// correlation key for in-dialog requests).
type Store struct {
	mu        sync.RWMutex
	byID      map[string]*Session
	byCallID  map[string]*Session
	logger    *slog.Logger
}

// NewStore creates an empty session store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		byID:     make(map[string]*Session),
		byCallID: make(map[string]*Session),
		logger:   logger.With("subsystem", "session"),
	}
}

// Create registers a brand-new session in StateInitial.
func (s *Store) Create(callID string) *Session {
	sess := &Session{
		ID:        NewID(),
		CallID:    callID,
		State:     StateInitial,
		StartTime: time.Now(),
	}

	s.mu.Lock()
	s.byID[sess.ID] = sess
	s.byCallID[callID] = sess
	s.mu.Unlock()

	s.logger.Info("session created", "session_id", sess.ID, "call_id", callID)
	return sess
}

// ByID returns the session with the given id, or nil.
func (s *Store) ByID(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

// ByCallID returns the session whose A-leg Call-ID matches, or nil.
func (s *Store) ByCallID(callID string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byCallID[callID]
}

// Transition moves a session to a new state in place.
func (s *Store) Transition(sess *Session, state State) {
	s.mu.Lock()
	sess.State = state
	if state == StateEstablished && sess.AnswerTime.IsZero() {
		sess.AnswerTime = time.Now()
	}
	s.mu.Unlock()

	s.logger.Info("session state transition", "session_id", sess.ID, "call_id", sess.CallID, "state", state)
}

// Remove terminates and deletes the session, returning it for any
// downstream accounting (CDR-equivalent logging, metrics).
func (s *Store) Remove(callID, hangupCause string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byCallID[callID]
	if !ok {
		return nil
	}

	sess.State = StateTerminated
	sess.EndTime = time.Now()
	sess.HangupCause = hangupCause

	delete(s.byCallID, callID)
	delete(s.byID, sess.ID)

	s.logger.Info("session terminated", "session_id", sess.ID, "call_id", callID,
		"hangup_cause", hangupCause, "duration", sess.Duration())
	return sess
}

// Count returns the number of currently active (non-terminated) sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byCallID)
}

// All returns a snapshot of the active session set.
func (s *Store) All() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.byCallID))
	for _, sess := range s.byCallID {
		out = append(out, sess)
	}
	return out
}

// Duration returns elapsed time from session start to end (zero while
// still active).
func (sess *Session) Duration() time.Duration {
	if sess.EndTime.IsZero() {
		return 0
	}
	return sess.EndTime.Sub(sess.StartTime)
}

// BillableDuration returns the answered-to-ended duration (zero if never
// answered or still active).
func (sess *Session) BillableDuration() time.Duration {
	if sess.AnswerTime.IsZero() || sess.EndTime.IsZero() {
		return 0
	}
	return sess.EndTime.Sub(sess.AnswerTime)
}
