package paramstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Static serves parameters from memory. It backs local runs where secrets
// come from the environment instead of SSM.
type Static map[string]string

func (s Static) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := s[strings.TrimSpace(name)]
	if !ok || v == "" {
		return "", fmt.Errorf("paramstore: parameter %q not set", name)
	}
	return v, nil
}

// Cached memoizes successful lookups of an underlying Getter. Failures are
// not cached so a transient SSM error is retried on the next request.
type Cached struct {
	next Getter

	mu     sync.RWMutex
	values map[string]string
}

func NewCached(next Getter) *Cached {
	return &Cached{next: next, values: map[string]string{}}
}

func (c *Cached) GetParameter(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	v, ok := c.values[name]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}
	v, err := c.next.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.values[name] = v
	c.mu.Unlock()
	return v, nil
}
