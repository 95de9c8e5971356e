package runs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/github-activity-digest/internal/apperrors"
	"github.com/wesm/github-activity-digest/internal/models"
)

func TestStartRejectsSecondRunOfSameKind(t *testing.T) {
	r := NewRegistry(10)

	first, err := r.Start(KindSync)
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, first.Status)
	assert.NotEmpty(t, first.ID)

	_, err = r.Start(KindSync)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrRunInProgress))

	// Other kinds are independent
	_, err = r.Start(KindAutomation)
	require.NoError(t, err)

	r.Finish(first.ID, map[string]int{"issues": 3}, nil)
	second, err := r.Start(KindSync)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestFinishRecordsOutcome(t *testing.T) {
	r := NewRegistry(10)
	fixed := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	r.Now = func() time.Time { return fixed }

	run, err := r.Start(KindResync)
	require.NoError(t, err)
	r.Finish(run.ID, nil, errors.New("upstream unavailable"))

	got, err := r.Get(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, got.Status)
	assert.Equal(t, "upstream unavailable", got.Error)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, fixed, *got.FinishedAt)

	// The kind is free again once the run finished
	_, err = r.Start(KindResync)
	require.NoError(t, err)
}

func TestGetUnknownRun(t *testing.T) {
	r := NewRegistry(10)
	_, err := r.Get("missing")
	assert.Equal(t, apperrors.ErrNotFound, apperrors.CodeOf(err))
}

func TestFinishedRunsAreBounded(t *testing.T) {
	r := NewRegistry(2)
	var ids []string
	for i := 0; i < 3; i++ {
		run, err := r.Start(KindSync)
		require.NoError(t, err)
		r.Finish(run.ID, nil, nil)
		ids = append(ids, run.ID)
	}

	_, err := r.Get(ids[0])
	assert.Error(t, err)
	for _, id := range ids[1:] {
		_, err := r.Get(id)
		assert.NoError(t, err)
	}
}
