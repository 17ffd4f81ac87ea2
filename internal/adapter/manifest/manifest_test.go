package manifest_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/aeronet-etl/internal/adapter/manifest"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T, path string) (*manifest.Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	s, err := manifest.Open(context.Background(), path, clock)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s, clock := openStore(t, "")

	require.NoError(t, s.StartRun(ctx, "run-1", "Lille"))
	clock.Advance(90 * time.Second)
	require.NoError(t, s.FinishRun(ctx, "run-1", nil))

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "Lille", run.Label)
	assert.Equal(t, manifest.StatusSucceeded, run.Status)
	assert.Equal(t, t0, run.StartedAt)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, t0.Add(90*time.Second), *run.FinishedAt)
	assert.Empty(t, run.Error)
}

func TestFailedRunKeepsError(t *testing.T) {
	ctx := context.Background()
	s, _ := openStore(t, "")

	require.NoError(t, s.StartRun(ctx, "run-1", "Lille"))
	require.NoError(t, s.FinishRun(ctx, "run-1", errors.New("merge: empty join")))

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusFailed, run.Status)
	assert.Equal(t, "merge: empty join", run.Error)

	_, err = s.GetRun(ctx, "missing")
	assert.Error(t, err)
}

func TestClaimIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := openStore(t, "")
	require.NoError(t, s.StartRun(ctx, "run-1", "Lille"))
	require.NoError(t, s.StartRun(ctx, "run-2", "Lille"))

	require.NoError(t, s.Claim(ctx, "run-1", "merged/Lille.lev15_merged_v02", "merged"))
	err := s.Claim(ctx, "run-1", "merged/Lille.lev15_merged_v02", "merged")
	require.Error(t, err)
	assert.True(t, errors.Is(err, manifest.ErrAlreadyClaimed))

	// Another run may write the same path.
	require.NoError(t, s.Claim(ctx, "run-2", "merged/Lille.lev15_merged_v02", "merged"))
}

func TestArtifacts(t *testing.T) {
	ctx := context.Background()
	s, clock := openStore(t, "")
	require.NoError(t, s.StartRun(ctx, "run-1", "Lille"))

	require.NoError(t, s.Claim(ctx, "run-1", "organized/b.lev15_aod_v01", "cleaned"))
	require.NoError(t, s.Claim(ctx, "run-1", "organized/a.lev15_aod_v01", "cleaned"))
	clock.Advance(time.Second)
	require.NoError(t, s.Complete(ctx, "run-1", "organized/a.lev15_aod_v01", 42))
	require.NoError(t, s.Fail(ctx, "run-1", "organized/b.lev15_aod_v01", errors.New("disk full")))

	arts, err := s.Artifacts(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, arts, 2)

	assert.Equal(t, "organized/a.lev15_aod_v01", arts[0].Path)
	assert.Equal(t, manifest.StatusSucceeded, arts[0].Status)
	assert.Equal(t, 42, arts[0].Rows)
	assert.Equal(t, t0, arts[0].CreatedAt)
	require.NotNil(t, arts[0].CompletedAt)
	assert.Equal(t, t0.Add(time.Second), *arts[0].CompletedAt)

	assert.Equal(t, manifest.StatusFailed, arts[1].Status)
	assert.Equal(t, "disk full", arts[1].Error)

	assert.Error(t, s.Complete(ctx, "run-1", "never/claimed", 1))
}

func TestReopenKeepsHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "manifest.db")

	s, err := manifest.Open(ctx, path, clockwork.NewFakeClockAt(t0))
	require.NoError(t, err)
	require.NoError(t, s.StartRun(ctx, "run-1", "Lille"))
	require.NoError(t, s.Close())

	s2, _ := openStore(t, path)
	run, err := s2.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusRunning, run.Status)
}
