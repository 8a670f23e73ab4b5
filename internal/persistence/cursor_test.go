package persistence

import (
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/heartstream/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	c := &domain.Cursor{StartedAt: time.Date(2025, time.October, 27, 7, 0, 0, 123, time.UTC), ID: "a|b"}
	token := EncodeCursor(c)
	require.NotEmpty(t, token)

	decoded, err := DecodeCursor(token)
	require.NoError(t, err)
	require.True(t, c.StartedAt.Equal(decoded.StartedAt))
	require.Equal(t, c.ID, decoded.ID)

	require.Empty(t, EncodeCursor(nil))
	empty, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, empty)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"%%%", rawToken("no-separator"), rawToken("yesterday|id"), rawToken("2025-10-27T07:00:00Z|")} {
		_, err := DecodeCursor(token)
		require.Error(t, err, token)
	}
}

func TestPageActivities(t *testing.T) {
	base := time.Date(2025, time.October, 27, 7, 0, 0, 0, time.UTC)
	items := make([]domain.Activity, 0, 5)
	for i := 4; i >= 0; i-- {
		items = append(items, domain.Activity{ID: fmt.Sprintf("act-%d", i), StartTime: base.Add(time.Duration(i) * time.Minute)})
	}

	page, next := PageActivities(items, nil, 2)
	require.Equal(t, []string{"act-4", "act-3"}, activityIDs(page))
	require.NotNil(t, next)

	page, next = PageActivities(items, next, 2)
	require.Equal(t, []string{"act-2", "act-1"}, activityIDs(page))
	require.NotNil(t, next)

	page, next = PageActivities(items, next, 2)
	require.Equal(t, []string{"act-0"}, activityIDs(page))
	require.Nil(t, next)

	page, next = PageActivities(items, nil, 0)
	require.Len(t, page, 5)
	require.Nil(t, next)
}

func TestPageActivitiesTieBreaksOnID(t *testing.T) {
	ts := time.Date(2025, time.October, 27, 7, 0, 0, 0, time.UTC)
	items := []domain.Activity{{ID: "c", StartTime: ts}, {ID: "b", StartTime: ts}, {ID: "a", StartTime: ts}}

	page, next := PageActivities(items, nil, 1)
	require.Equal(t, []string{"c"}, activityIDs(page))
	page, _ = PageActivities(items, next, 5)
	require.Equal(t, []string{"b", "a"}, activityIDs(page))
}

func rawToken(raw string) string {
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func activityIDs(items []domain.Activity) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}
