package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modhealthd/modhealthd/pkg/severity"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "trigger-state.json"))
	require.NoError(t, err)
	return store
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	store := newStore(t)

	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultState(), st)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newStore(t)

	now := time.Unix(5000, 0).UTC()
	st := DefaultState()
	st.IsActive = true
	st.LastCheck = &now
	st.LastRecoveryAttempt = &now
	st.ConsecutiveFailures = 2
	st.RecoveryAttempts = 7
	st.CurrentSeverity = severity.Severe
	st.Statistics.TotalChecks = 41

	require.NoError(t, store.Save(st))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, st, loaded)

	// Saving a freshly loaded state must be idempotent.
	require.NoError(t, store.Save(loaded))
	again, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, loaded, again)
}

func TestLoadIgnoresUnknownFields(t *testing.T) {
	store := newStore(t)
	doc := `{"isActive": true, "futureKnob": {"nested": 1}, "consecutiveFailures": 3}`
	require.NoError(t, os.WriteFile(store.Path(), []byte(doc), 0o644))

	st, err := store.Load()
	require.NoError(t, err)
	assert.True(t, st.IsActive)
	assert.Equal(t, 3, st.ConsecutiveFailures)
	// Untouched fields keep their defaults.
	assert.Equal(t, severity.None, st.CurrentSeverity)
	assert.Equal(t, 70, st.Thresholds.HealthThreshold)
}

func TestLoadCorruptFileFallsBackToDefaults(t *testing.T) {
	store := newStore(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{half a document"), 0o644))

	st, err := store.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptState))
	assert.Equal(t, DefaultState(), st)

	// A subsequent save re-establishes a clean file.
	require.NoError(t, store.Save(st))
	st, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultState(), st)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Save(DefaultState()))

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(store.Path()), entries[0].Name())
}

func TestSavedDocumentShape(t *testing.T) {
	store := newStore(t)
	st := DefaultState()
	st.Statistics.TriggeredRecoveries = 2
	require.NoError(t, store.Save(st))

	raw, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	for _, key := range []string{"isActive", "lastCheck", "lastRecoveryAttempt", "consecutiveFailures", "recoveryAttempts", "currentSeverity", "thresholds", "statistics"} {
		assert.Containsf(t, doc, key, "persisted document must carry %q", key)
	}
	stats, ok := doc["statistics"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), stats["triggeredRecoveries"])
}

func TestIncrement(t *testing.T) {
	store := newStore(t)

	require.NoError(t, store.Increment(CounterTotalChecks))
	require.NoError(t, store.Increment(CounterTotalChecks))
	require.NoError(t, store.Increment(CounterFailedRecoveries))

	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Statistics.TotalChecks)
	assert.Equal(t, 1, st.Statistics.FailedRecoveries)

	assert.Error(t, store.Increment("bogusCounter"))
}

func TestResetRestoresDefaults(t *testing.T) {
	store := newStore(t)

	st := DefaultState()
	st.ConsecutiveFailures = 4
	st.CurrentSeverity = severity.Critical
	st.Statistics.FailedRecoveries = 4
	require.NoError(t, store.Save(st))

	require.NoError(t, store.Reset())

	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultState(), st)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(DefaultState())

	st, err := store.Load()
	require.NoError(t, err)
	st.ConsecutiveFailures = 1
	require.NoError(t, store.Save(st))
	require.NoError(t, store.Increment(CounterSuccessfulRecoveries))

	st, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Equal(t, 1, st.Statistics.SuccessfulRecoveries)

	require.NoError(t, store.Reset())
	st, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultState(), st)
}
