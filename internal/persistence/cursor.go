// Package persistence selects a store backend and holds helpers shared by them.
package persistence

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"example.com/heartstream/internal/domain"
)

// EncodeCursor serialises the cursor to a string token.
func EncodeCursor(c *domain.Cursor) string {
	if c == nil {
		return ""
	}
	raw := fmt.Sprintf("%s|%s", c.StartedAt.UTC().Format(time.RFC3339Nano), c.ID)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses the encoded cursor token. An empty token yields a nil cursor.
func DecodeCursor(token string) (*domain.Cursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, err
	}
	return &domain.Cursor{StartedAt: ts, ID: parts[1]}, nil
}

// PageActivities slices a most-recent-first listing. It returns the items after
// cursor, at most limit of them, and the cursor for the next page when more remain.
func PageActivities(items []domain.Activity, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor) {
	start := 0
	if cursor != nil {
		start = len(items)
		for i, act := range items {
			if after(act, cursor) {
				start = i
				break
			}
		}
	}
	rest := items[start:]
	if limit <= 0 || len(rest) <= limit {
		return rest, nil
	}
	page := rest[:limit]
	last := page[len(page)-1]
	return page, &domain.Cursor{StartedAt: last.StartTime, ID: last.ID}
}

func after(act domain.Activity, c *domain.Cursor) bool {
	if act.StartTime.Equal(c.StartedAt) {
		return act.ID < c.ID
	}
	return act.StartTime.Before(c.StartedAt)
}
