package history

import (
	"context"
	"strings"

	"github.com/sahilm/fuzzy"

	"go.klb.dev/clipstash/internal/model"
)

// textSource exposes the lower-cased text items of a history to the fuzzy
// matcher. Images have no text and never match.
type textSource []model.Item

func (s textSource) String(i int) string {
	if t, ok := s[i].Content.(model.Text); ok {
		return strings.ToLower(string(t))
	}
	return ""
}

func (s textSource) Len() int { return len(s) }

// Search ranks text items by how closely query matches them as a
// subsequence, best match first. An empty query behaves like List.
func (m *Manager) Search(ctx context.Context, query string, limit int) ([]model.Item, error) {
	if query == "" {
		return m.List(ctx, "", limit)
	}
	all, err := m.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	matches := fuzzy.FindFrom(strings.ToLower(query), textSource(all))
	out := make([]model.Item, 0, len(matches))
	for _, mt := range matches {
		out = append(out, all[mt.Index])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
