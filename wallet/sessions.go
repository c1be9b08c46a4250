package wallet

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gitlab.com/moonship/presale/common"
)

type session struct {
	wallet   common.WalletAddress
	lastSeen time.Time
}

// Sessions tracks wallets connected through the wallet widget. A session is
// only an opaque handle to a wallet identity; nothing here is signed.
type Sessions struct {
	ttl     time.Duration
	timeNow func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func NewSessions(ttl time.Duration) *Sessions {
	return &Sessions{
		ttl:      ttl,
		timeNow:  time.Now,
		sessions: make(map[string]*session),
	}
}

func (s *Sessions) Connect(addr common.WalletAddress) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.sessions[id] = &session{wallet: addr, lastSeen: s.timeNow()}
	log.Printf("Sessions: wallet %s connected (%s)", addr.String(), id)
	return id
}

func (s *Sessions) Disconnect(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// Wallet returns the wallet behind a live session and refreshes it.
func (s *Sessions) Wallet(id string) (common.WalletAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return common.WalletAddress{}, fmt.Errorf("session %q: %w", id, common.ErrNotExists)
	}
	now := s.timeNow()
	if s.expired(sess, now) {
		delete(s.sessions, id)
		return common.WalletAddress{}, fmt.Errorf("session %q expired: %w", id, common.ErrNotExists)
	}
	sess.lastSeen = now
	return sess.wallet, nil
}

func (s *Sessions) expired(sess *session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.lastSeen) > s.ttl
}

// Prune drops expired sessions and returns how many were removed.
func (s *Sessions) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.timeNow()
	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
