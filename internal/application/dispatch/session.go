package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/bryanwahyu/vscanbot/internal/domain/chat"
)

// DefaultSessionTTL is how long an idle conversation keeps its state.
const DefaultSessionTTL = 30 * time.Minute

// Session is the state of one conversation. It is locked for the whole
// handling of an update so updates of a chat are processed one at a time.
type Session struct {
	mu       sync.Mutex
	chatID   int64
	lang     string
	pending  *chat.MessageRef
	lastSeen time.Time
	evicted  bool
}

// pin stores lang as the conversation language unless one is already set.
func (s *Session) pin(lang string) string {
	if s.lang == "" && lang != "" {
		s.lang = lang
	}
	return s.lang
}

type sessionStore struct {
	mu  sync.Mutex
	m   map[int64]*Session
	ttl time.Duration
	now func() time.Time
}

func newSessionStore(ttl time.Duration, now func() time.Time) *sessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &sessionStore{m: make(map[int64]*Session), ttl: ttl, now: now}
}

// acquire returns the locked session for chatID, creating it if needed.
func (st *sessionStore) acquire(chatID int64) *Session {
	for {
		st.mu.Lock()
		s, ok := st.m[chatID]
		if !ok {
			s = &Session{chatID: chatID}
			st.m[chatID] = s
		}
		st.mu.Unlock()

		s.mu.Lock()
		if !s.evicted {
			s.lastSeen = st.now()
			return s
		}
		// lost a race with the janitor
		s.mu.Unlock()
	}
}

func (st *sessionStore) release(s *Session) {
	s.lastSeen = st.now()
	s.mu.Unlock()
}

func (st *sessionStore) len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.m)
}

// evictIdle drops sessions idle for longer than the ttl. Sessions in use
// are skipped.
func (st *sessionStore) evictIdle() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := st.now()
	n := 0
	for id, s := range st.m {
		if !s.mu.TryLock() {
			continue
		}
		if now.Sub(s.lastSeen) > st.ttl {
			s.evicted = true
			delete(st.m, id)
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// janitor evicts idle sessions until ctx is done.
func (st *sessionStore) janitor(ctx context.Context, every time.Duration, evicted func(int)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := st.evictIdle(); n > 0 && evicted != nil {
				evicted(n)
			}
		}
	}
}
