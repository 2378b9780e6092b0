package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateService_WindowBoundaries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		at   time.Time
		want error
	}{
		{"one minute early", windowStart.Add(-time.Minute), ErrNotStarted},
		{"exactly at start", windowStart, nil},
		{"exactly at end", windowStart.Add(time.Hour), nil},
		{"one second late", windowStart.Add(time.Hour + time.Second), ErrExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adm, err := f.gate.Admit(ctx, testCode, "", tt.at)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				assert.Nil(t, adm)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, f.attempt.ID, adm.Attempt.ID)
			assert.Len(t, adm.Evaluation.Questions, 3)
		})
	}
}

func TestGateService_RejectsShortAndUnknownCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	_, err := f.gate.Admit(ctx, "  abc  ", "", now)
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.Equal(t, KindInvalidInput, Classify(err))

	_, err = f.gate.Admit(ctx, "NOPE-0000", "", now)
	assert.ErrorIs(t, err, ErrAttemptNotFound)
	assert.Equal(t, KindNotFound, Classify(err))

	adm, err := f.gate.Admit(ctx, "  "+testCode+" ", "", now)
	require.NoError(t, err)
	assert.Equal(t, f.attempt.ID, adm.Attempt.ID)
}

func TestGateService_AlreadySubmittedBeatsWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, claims := f.access(t, "sari@example.com")
	_, err := f.sessions.Submit(ctx, claims.SubmissionID, nil, TriggerManual)
	require.NoError(t, err)

	// Even after the window closes the student sees the submitted view, not Expired.
	_, err = f.gate.Admit(ctx, testCode, "SARI@example.com ", windowStart.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrAlreadySubmitted)

	// Other students are unaffected.
	_, err = f.gate.Admit(ctx, testCode, "budi@example.com", f.clock.Now())
	assert.NoError(t, err)
}

func TestClassify_UnknownErrorsAreTransient(t *testing.T) {
	assert.Equal(t, KindNone, Classify(nil))
	assert.Equal(t, KindTransientIO, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindCapacity, Classify(ErrAttemptFull))
	assert.Equal(t, KindConfiguration, Classify(ErrNotConfigured))
	assert.Equal(t, KindGrading, Classify(ErrGradingFailed))
}
