// Package identity resolves author ids to display names.
package identity

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// UnknownAuthor is shown for ids the identity provider no longer knows.
const UnknownAuthor = "[deleted]"

type Source interface {
	DisplayNames(ctx context.Context, ids []string) (map[string]string, error)
}

type cachedName struct {
	name      string
	expiresAt time.Time
}

// CachedDirectory puts a bounded LRU in front of a Source. Only names that
// resolved are cached, so a returning identity shows up on the next miss.
type CachedDirectory struct {
	source Source
	names  *lru.Cache[string, cachedName]
	ttl    time.Duration
	now    func() time.Time
}

func NewCachedDirectory(source Source, size int, ttl time.Duration) (*CachedDirectory, error) {
	if size <= 0 {
		size = 1024
	}
	names, err := lru.New[string, cachedName](size)
	if err != nil {
		return nil, fmt.Errorf("create name cache: %w", err)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedDirectory{source: source, names: names, ttl: ttl, now: time.Now}, nil
}

// Resolve returns a name for every id in ids. Ids the source does not know
// map to UnknownAuthor.
func (d *CachedDirectory) Resolve(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	now := d.now()
	missing := make([]string, 0)
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		if entry, ok := d.names.Get(id); ok && now.Before(entry.expiresAt) {
			out[id] = entry.name
			continue
		}
		out[id] = UnknownAuthor
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	found, err := d.source.DisplayNames(ctx, missing)
	if err != nil {
		return out, fmt.Errorf("resolve display names: %w", err)
	}
	for id, name := range found {
		out[id] = name
		d.names.Add(id, cachedName{name: name, expiresAt: now.Add(d.ttl)})
	}
	return out, nil
}

// Forget drops cached entries, e.g. after an identity is removed.
func (d *CachedDirectory) Forget(ids ...string) {
	for _, id := range ids {
		d.names.Remove(id)
	}
}
