package session

import (
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// answerCache maps (conversation, normalized query) to the last answer
// produced for it. LRU-bounded so the process cannot grow without limit.
type answerCache struct {
	entries *lru.Cache[string, string]
}

func newAnswerCache(size int) (*answerCache, error) {
	entries, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &answerCache{entries: entries}, nil
}

// NormalizeQuery is the cache key normalization: lowercase, trimmed.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func cacheKey(id int64, query string) string {
	return strconv.FormatInt(id, 10) + "\x00" + NormalizeQuery(query)
}

func (c *answerCache) get(id int64, query string) (string, bool) {
	return c.entries.Get(cacheKey(id, query))
}

func (c *answerCache) put(id int64, query, answer string) {
	c.entries.Add(cacheKey(id, query), answer)
}

func (c *answerCache) invalidate(id int64, query string) {
	c.entries.Remove(cacheKey(id, query))
}
