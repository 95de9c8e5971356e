package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func ev(id int64, st Status, src StatusSource, hours int) StatusEvent {
	return StatusEvent{ID: id, IssueID: "I1", Status: st, Source: src, OccurredAt: base.Add(time.Duration(hours) * time.Hour)}
}

func TestResolveStatusNone(t *testing.T) {
	res := ResolveStatus(nil)
	assert.Equal(t, StatusNone, res.Status)
	assert.Equal(t, SourceNone, res.Source)
	assert.False(t, res.Locked)
	assert.Nil(t, res.UpdatedAt)
}

func TestResolveStatusActivityLatestWins(t *testing.T) {
	res := ResolveStatus([]StatusEvent{
		ev(1, StatusInProgress, SourceActivity, 0),
		ev(2, StatusDone, SourceActivity, 48),
		ev(3, StatusTodo, SourceActivity, 24),
	})
	assert.Equal(t, StatusDone, res.Status)
	assert.Equal(t, SourceActivity, res.Source)
	assert.False(t, res.Locked)
	require.NotNil(t, res.UpdatedAt)
	assert.Equal(t, base.Add(48*time.Hour), *res.UpdatedAt)
}

func TestResolveStatusBoardIsAuthoritative(t *testing.T) {
	// A later activity event cannot override the board
	res := ResolveStatus([]StatusEvent{
		ev(1, StatusInProgress, SourceTodoProject, 0),
		ev(2, StatusDone, SourceActivity, 48),
	})
	assert.Equal(t, StatusInProgress, res.Status)
	assert.Equal(t, SourceTodoProject, res.Source)
	assert.True(t, res.Locked)
}

func TestResolveStatusTieBreaksOnInsertionOrder(t *testing.T) {
	res := ResolveStatus([]StatusEvent{
		ev(2, StatusDone, SourceTodoProject, 5),
		ev(1, StatusInProgress, SourceTodoProject, 5),
	})
	assert.Equal(t, StatusDone, res.Status)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("in_progress")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, st)

	_, err = ParseStatus("none")
	assert.Error(t, err)
	_, err = ParseStatus("blocked")
	assert.Error(t, err)
}

func TestFirstFromSource(t *testing.T) {
	events := []StatusEvent{
		ev(1, StatusTodo, SourceTodoProject, 30),
		ev(2, StatusInProgress, SourceActivity, 10),
		ev(3, StatusInProgress, SourceTodoProject, 20),
	}
	first := FirstFromSource(events, SourceTodoProject)
	require.NotNil(t, first)
	assert.Equal(t, int64(3), first.ID)
	assert.Nil(t, FirstFromSource(events[1:2], SourceTodoProject))
}

func TestRawProjectTitles(t *testing.T) {
	titles, ok, err := RawProjectTitles([]byte(`{"projectItems":{"nodes":[{"project":{"title":"Roadmap"}},{"project":{"title":"Bugs"}}]}}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"Roadmap", "Bugs"}, titles)

	titles, ok, err = RawProjectTitles([]byte(`{"projectItems":{"nodes":[]}}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, titles)

	_, ok, err = RawProjectTitles([]byte(`{"title":"no membership data"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = RawProjectTitles([]byte(`{`))
	assert.Error(t, err)
}

func TestProjectFieldOverride(t *testing.T) {
	var o ProjectFieldOverride
	assert.True(t, o.Empty())

	high := "high"
	o.Set(FieldPriority, &high, base)
	assert.False(t, o.Empty())
	require.NotNil(t, o.Get(FieldPriority))
	assert.Equal(t, "high", *o.Get(FieldPriority))
	assert.Equal(t, base, *o.PriorityUpdatedAt)

	o.Set(FieldPriority, nil, base.Add(time.Hour))
	assert.True(t, o.Empty())

	_, ok := ParseProjectField("weight")
	assert.True(t, ok)
	_, ok = ParseProjectField("color")
	assert.False(t, ok)
}
