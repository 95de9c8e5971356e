package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestManualOverrideGoesStaleAfterReevaluation(t *testing.T) {
	t1 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(2 * time.Hour)

	// Manual suppress at T1, classifier re-evaluates at T2 > T1
	m := MentionClassification{
		RequiresResponse: ptr(true),
		LastEvaluatedAt:  &t2,
		ManualState:      OverrideSuppress,
		ManualUpdatedAt:  &t1,
	}
	assert.False(t, m.ManualActive())
	assert.True(t, m.ManualStale())
	requires, known := m.RequiresResponseEffective()
	assert.True(t, known)
	assert.True(t, requires, "classifier judgment applies once the override is stale")
}

func TestManualOverrideAuthoritativeWhenNewer(t *testing.T) {
	t1 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(2 * time.Hour)

	m := MentionClassification{
		RequiresResponse: ptr(true),
		LastEvaluatedAt:  &t1,
		ManualState:      OverrideSuppress,
		ManualUpdatedAt:  &t2,
	}
	assert.True(t, m.ManualActive())
	assert.False(t, m.ManualStale())
	requires, known := m.RequiresResponseEffective()
	assert.True(t, known)
	assert.False(t, requires)

	// An override at exactly the evaluation time still holds
	m.ManualUpdatedAt = &t1
	assert.True(t, m.ManualActive())
}

func TestForceOverrideWithoutClassifier(t *testing.T) {
	at := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	m := MentionClassification{ManualState: OverrideForce, ManualUpdatedAt: &at}
	requires, known := m.RequiresResponseEffective()
	assert.True(t, known)
	assert.True(t, requires)
}

func TestNoJudgmentAvailable(t *testing.T) {
	var m MentionClassification
	_, known := m.RequiresResponseEffective()
	assert.False(t, known)
	assert.False(t, m.ManualStale())
}

func TestParseMentionOverride(t *testing.T) {
	for _, s := range []string{"suppress", "force", "clear"} {
		o, err := ParseMentionOverride(s)
		assert.NoError(t, err)
		assert.Equal(t, MentionOverride(s), o)
	}
	_, err := ParseMentionOverride("ignore")
	assert.Error(t, err)
}
