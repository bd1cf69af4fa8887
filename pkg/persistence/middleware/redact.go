package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/ports"
)

type redactMiddleware struct {
	next     ports.SnapshotStore
	patterns []*regexp.Regexp
}

// NewRedactMiddleware creates a middleware that leaves values of parameters
// matching any pattern out of stored snapshots. A restored object keeps its
// current value for those parameters. Keys of nested maps are masked instead.
func NewRedactMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.SnapshotStore) ports.SnapshotStore {
		return &redactMiddleware{next: next, patterns: patterns}
	}
}

func (m *redactMiddleware) Save(ctx context.Context, key string, snap *domain.Snapshot) error {
	// Work on a copy; the caller's snapshot stays intact.
	cloned := *snap
	cloned.Values = make(map[string]any, len(snap.Values))
	for k, v := range snap.Values {
		if m.matches(k) {
			continue
		}
		if sub, ok := v.(map[string]any); ok {
			sub = deepCopyMap(sub)
			maskMap(sub, m.patterns)
			v = sub
		}
		cloned.Values[k] = v
	}
	return m.next.Save(ctx, key, &cloned)
}

func (m *redactMiddleware) Load(ctx context.Context, key string) (*domain.Snapshot, error) {
	return m.next.Load(ctx, key)
}

func (m *redactMiddleware) Delete(ctx context.Context, key string) error {
	return m.next.Delete(ctx, key)
}

func (m *redactMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *redactMiddleware) matches(k string) bool {
	for _, p := range m.patterns {
		if p.MatchString(k) {
			return true
		}
	}
	return false
}

// Helpers

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if subMap, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(subMap)
		} else {
			out[k] = v
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = "***"
				break
			}
		}
		if subMap, ok := v.(map[string]any); ok {
			maskMap(subMap, patterns)
		}
	}
}
