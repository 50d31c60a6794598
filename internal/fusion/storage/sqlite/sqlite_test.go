package sqlite

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/collision.report/internal/fusion"
	"github.com/banshee-data/collision.report/internal/fusion/kptfilter"
	"github.com/banshee-data/collision.report/internal/fusion/pipeline"
	"github.com/banshee-data/collision.report/internal/fusion/ttc"
	"github.com/banshee-data/collision.report/internal/timeutil"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func useMockClock(t *testing.T, start time.Time) *timeutil.MockClock {
	t.Helper()
	mc := timeutil.NewMockClock(start)
	prev := clock
	clock = mc
	t.Cleanup(func() { clock = prev })
	return mc
}

func floatPtr(v float64) *float64 { return &v }

func TestOpen_MigratesToLatest(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Re-running is a no-op.
	require.NoError(t, db.MigrateUp())

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM fusion_estimates`).Scan(&n))
	assert.Zero(t, n)
}

func TestRunStore_Lifecycle(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mc := useMockClock(t, start)
	store := NewRunStore(openTestDB(t))

	run := &Run{
		SequenceDir: "/data/2011_09_26_drive_0005",
		FirstFrame:  0,
		LastFrame:   18,
		ConfigJSON:  json.RawMessage(`{"frame_rate":10}`),
	}
	require.NoError(t, store.StartRun(run))
	require.NotEmpty(t, run.RunID)
	assert.Equal(t, start.UnixNano(), run.StartedAt)

	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Zero(t, got.FinishedAt)
	assert.JSONEq(t, `{"frame_rate":10}`, string(got.ConfigJSON))

	mc.Advance(5 * time.Second)
	require.NoError(t, store.FinishRun(run.RunID, nil))

	got, err = store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Empty(t, got.Error)
	assert.Equal(t, start.Add(5*time.Second).UnixNano(), got.FinishedAt)
}

func TestRunStore_FailedRun(t *testing.T) {
	store := NewRunStore(openTestDB(t))
	run := &Run{SequenceDir: "/d", LastFrame: 3}
	require.NoError(t, store.StartRun(run))

	require.NoError(t, store.FinishRun(run.RunID, errors.New("frame 2: missing scan")))
	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "frame 2: missing scan", got.Error)
	assert.Nil(t, got.ConfigJSON)
}

func TestRunStore_UnknownRun(t *testing.T) {
	store := NewRunStore(openTestDB(t))

	_, err := store.GetRun("nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))

	err = store.FinishRun("nope", nil)
	assert.True(t, errors.Is(err, ErrRunNotFound))

	// Estimates must belong to a run.
	err = store.InsertEstimates([]Estimate{{RunID: "nope", FrameIndex: 1}})
	assert.Error(t, err)
}

func TestRunStore_ListRunsNewestFirst(t *testing.T) {
	mc := useMockClock(t, time.Unix(1000, 0))
	store := NewRunStore(openTestDB(t))

	first := &Run{SequenceDir: "/a"}
	require.NoError(t, store.StartRun(first))
	mc.Advance(time.Minute)
	second := &Run{SequenceDir: "/b"}
	require.NoError(t, store.StartRun(second))

	runs, err := store.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].RunID)
	assert.Equal(t, first.RunID, runs[1].RunID)
}

func TestRunStore_InsertAndListEstimates(t *testing.T) {
	store := NewRunStore(openTestDB(t))
	run := &Run{SequenceDir: "/d", LastFrame: 2}
	require.NoError(t, store.StartRun(run))

	in := []Estimate{
		{
			RunID: run.RunID, PrevFrame: 1, FrameIndex: 2, PrevBoxID: 3, CurrBoxID: 4,
			PrevPoints: 10, CurrPoints: 12, MatchesAssigned: 40, MatchesKept: 35,
			LidarTTC: floatPtr(12.5), LidarDistance: floatPtr(7.9),
			CameraError: "camera: no distance ratios",
		},
		{
			RunID: run.RunID, PrevFrame: 0, FrameIndex: 1, PrevBoxID: 3, CurrBoxID: 3,
			LidarTTC: floatPtr(13.1), LidarDistance: floatPtr(8.0),
			CameraTTC: floatPtr(12.2), CameraRatio: floatPtr(1.0082),
		},
	}
	require.NoError(t, store.InsertEstimates(in))
	require.NoError(t, store.InsertEstimates(nil))

	got, err := store.ListEstimates(run.RunID)
	require.NoError(t, err)
	want := []Estimate{in[1], in[0]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("estimates mismatch (-want +got):\n%s", diff)
	}

	// Same key replaces.
	updated := in[0]
	updated.CameraError = ""
	updated.CameraTTC = floatPtr(11.0)
	require.NoError(t, store.InsertEstimates([]Estimate{updated}))
	got, err = store.ListEstimates(run.RunID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 11.0, *got[1].CameraTTC)
	assert.Empty(t, got[1].CameraError)
}

func TestEstimateFromBox(t *testing.T) {
	est := pipeline.BoxEstimate{
		PrevFrame: 4, CurrFrame: 5, PrevBoxID: 1, CurrBoxID: 2,
		PrevPoints: 30, CurrPoints: 31,
		Lidar:     ttc.LidarEstimate{TTC: 9.5, CurrDistance: 7.2},
		Filter:    kptfilter.Result{Assigned: 20, Kept: 18},
		Camera:    ttc.CameraEstimate{MedianRatio: 1},
		CameraErr: fusion.ErrNoScaleChange,
	}

	got := EstimateFromBox("run-1", est)
	want := Estimate{
		RunID: "run-1", PrevFrame: 4, FrameIndex: 5, PrevBoxID: 1, CurrBoxID: 2,
		PrevPoints: 30, CurrPoints: 31, MatchesAssigned: 20, MatchesKept: 18,
		LidarTTC: floatPtr(9.5), LidarDistance: floatPtr(7.2),
		CameraError: fusion.ErrNoScaleChange.Error(),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("EstimateFromBox mismatch (-want +got):\n%s", diff)
	}
}

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"database is locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"SQLITE_BUSY", errors.New("SQLITE_BUSY"), true},
		{"other error", errors.New("some other error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSQLiteBusy(tt.err); got != tt.expected {
				t.Errorf("isSQLiteBusy(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	busy := errors.New("database is locked (5) (SQLITE_BUSY)")

	t.Run("success after retry", func(t *testing.T) {
		mc := useMockClock(t, time.Unix(0, 0))
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			if calls < 3 {
				return busy
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, mc.Sleeps())
	})

	t.Run("non-busy error fails immediately", func(t *testing.T) {
		mc := useMockClock(t, time.Unix(0, 0))
		other := errors.New("some other error")
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			return other
		})
		assert.Equal(t, other, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, mc.Sleeps())
	})

	t.Run("max attempts", func(t *testing.T) {
		mc := useMockClock(t, time.Unix(0, 0))
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			return busy
		})
		assert.Equal(t, busy, err)
		assert.Equal(t, 5, calls)
		assert.Len(t, mc.Sleeps(), 4)
	})
}
