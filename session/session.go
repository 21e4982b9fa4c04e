// Package session owns per-conversation state as one unit: the ordered
// turn history, the generation lock, and the cached-answer index. History
// is durably mirrored through the kv facade and rehydrated lazily.
package session

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// chatIDSet tracks which conversations have persisted history, for
	// bulk maintenance jobs.
	chatIDSet = "chat:ids"
)

// Turn is one message in a conversation. Immutable once appended.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// KV is the slice of the kv facade surface the store needs. The facade
// absorbs backend failures, so none of these can fail from our side.
type KV interface {
	Get(key string) (string, bool)
	SetWithTTL(key, value string, ttl time.Duration)
	Delete(key string)
	AddToSet(set, member string)
	RemoveFromSet(set, member string)
	Members(set string) []string
}

// conversation is the arena entry for one chat id.
type conversation struct {
	genMu    sync.Mutex // held for the whole generation; TryLock only
	dataMu   sync.Mutex // guards turns, lang, hydrated
	turns    []Turn
	lang     string
	hydrated bool
}

// Store holds every conversation, keyed by chat id. Conversations are
// created on first touch and live for the process lifetime.
type Store struct {
	mu    sync.Mutex
	convs map[int64]*conversation

	kv       KV
	cache    *answerCache
	maxTurns int
	ttl      time.Duration
}

// Config for a Store. Zero values fall back to the defaults used in
// production: 30 turns, 7 day TTL, 4096 cached answers.
type Config struct {
	MaxTurns  int
	TTL       time.Duration
	CacheSize int
}

func New(store KV, cfg Config) (*Store, error) {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 30
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 4096
	}
	cache, err := newAnswerCache(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("answer cache: %w", err)
	}
	return &Store{
		convs:    make(map[int64]*conversation),
		kv:       store,
		cache:    cache,
		maxTurns: cfg.MaxTurns,
		ttl:      cfg.TTL,
	}, nil
}

func chatKey(id int64) string {
	return "chat:" + strconv.FormatInt(id, 10)
}

func (s *Store) conv(id int64) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		c = &conversation{}
		s.convs[id] = c
	}
	return c
}

// TryAcquire takes the conversation's generation lock without blocking.
// A false return means a generation is already running for this chat and
// the caller must answer with a busy message, not queue.
func (s *Store) TryAcquire(id int64) bool {
	return s.conv(id).genMu.TryLock()
}

// Release frees the generation lock. Must only be called after a
// successful TryAcquire; callers defer it immediately after acquiring.
func (s *Store) Release(id int64) {
	s.conv(id).genMu.Unlock()
}

// Hydrate makes sure the conversation's history is loaded, pulling it
// from the store on first access. Corrupt persisted history is discarded
// and the conversation restarts empty.
func (s *Store) Hydrate(id int64) {
	c := s.conv(id)
	c.dataMu.Lock()
	defer c.dataMu.Unlock()

	if c.hydrated {
		return
	}
	c.hydrated = true

	raw, found := s.kv.Get(chatKey(id))
	if !found || raw == "" {
		return
	}
	var turns []Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		log.Printf("[Session] chat=%d corrupt history discarded: %v", id, err)
		s.kv.Delete(chatKey(id))
		s.kv.RemoveFromSet(chatIDSet, strconv.FormatInt(id, 10))
		return
	}
	c.turns = turns
}

// Append pushes a turn onto the in-memory history.
func (s *Store) Append(id int64, turn Turn) {
	c := s.conv(id)
	c.dataMu.Lock()
	c.turns = append(c.turns, turn)
	c.dataMu.Unlock()
}

// Turns returns a copy of the current history, oldest first.
func (s *Store) Turns(id int64) []Turn {
	c := s.conv(id)
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len reports the current history length.
func (s *Store) Len(id int64) int {
	c := s.conv(id)
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return len(c.turns)
}

// Trim keeps only the most recent maxLen turns, dropping the oldest.
func (s *Store) Trim(id int64, maxLen int) {
	c := s.conv(id)
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if maxLen > 0 && len(c.turns) > maxLen {
		c.turns = append([]Turn(nil), c.turns[len(c.turns)-maxLen:]...)
	}
}

// MaxTurns is the configured history bound.
func (s *Store) MaxTurns() int { return s.maxTurns }

// RollbackLastUser removes the most recent turn if it is a user turn.
// Used when every generation path failed, so a retry does not see the
// question twice.
func (s *Store) RollbackLastUser(id int64) {
	c := s.conv(id)
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if n := len(c.turns); n > 0 && c.turns[n-1].Role == RoleUser {
		c.turns = c.turns[:n-1]
	}
}

// Persist writes the (already trimmed) history through the facade and
// records the conversation in the membership set. Best-effort: the facade
// absorbs any store failure, so delivering the answer never blocks on
// persistence.
func (s *Store) Persist(id int64) {
	c := s.conv(id)
	c.dataMu.Lock()
	data, err := json.Marshal(c.turns)
	c.dataMu.Unlock()
	if err != nil {
		log.Printf("[Session] chat=%d marshal history failed: %v", id, err)
		return
	}
	s.kv.SetWithTTL(chatKey(id), string(data), s.ttl)
	s.kv.AddToSet(chatIDSet, strconv.FormatInt(id, 10))
}

// Clear removes the in-memory and persisted history and the membership
// entry. Cached answers for the conversation stay until evicted; they are
// keyed by query text and remain valid answers.
func (s *Store) Clear(id int64) {
	c := s.conv(id)
	c.dataMu.Lock()
	c.turns = nil
	c.hydrated = true
	c.dataMu.Unlock()

	s.kv.Delete(chatKey(id))
	s.kv.RemoveFromSet(chatIDSet, strconv.FormatInt(id, 10))
}

// KnownIDs lists conversations with persisted history.
func (s *Store) KnownIDs() []int64 {
	members := s.kv.Members(chatIDSet)
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// SetLang records the conversation's language tag.
func (s *Store) SetLang(id int64, lang string) {
	c := s.conv(id)
	c.dataMu.Lock()
	c.lang = lang
	c.dataMu.Unlock()
}

// Lang returns the conversation's language tag, empty if never set.
func (s *Store) Lang(id int64) string {
	c := s.conv(id)
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return c.lang
}

// CachedAnswer returns the cached answer for a repeated query, if any.
func (s *Store) CachedAnswer(id int64, query string) (string, bool) {
	return s.cache.get(id, query)
}

// CacheAnswer stores the final answer for a query.
func (s *Store) CacheAnswer(id int64, query, answer string) {
	s.cache.put(id, query, answer)
}

// InvalidateCached drops the cached answer for a query. Called when an
// escalation replaced the text, so a later identical query is not served
// the pre-escalation answer.
func (s *Store) InvalidateCached(id int64, query string) {
	s.cache.invalidate(id, query)
}
