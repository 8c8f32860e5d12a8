package history_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sonyctl/internal/device"
	"sonyctl/internal/dispatch"
	"sonyctl/internal/history"
)

func newStore(t *testing.T, limit int) *history.Store {
	t.Helper()
	store, err := history.NewStore(filepath.Join(t.TempDir(), "history.db"), limit, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := newStore(t, 0)
	ctx := context.Background()
	start := time.Unix(1700000000, 0)

	require.NoError(t, store.Record(ctx, history.Entry{
		ID:        "a",
		Kind:      device.KindDisplay,
		Action:    "SetPowerOn",
		Results:   []device.Result{{Device: "display1", Data: map[string]any{"result": []any{}}}, {Device: "display2", Error: "timeout"}},
		StartedAt: start,
		Duration:  120 * time.Millisecond,
	}))
	require.NoError(t, store.Record(ctx, history.Entry{
		ID:        "b",
		Kind:      device.KindDiscPlayer,
		Action:    "Eject",
		Error:     "Flooding",
		StartedAt: start.Add(time.Second),
	}))

	entries, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "b", entries[0].ID)
	assert.Equal(t, "Flooding", entries[0].Error)
	assert.Empty(t, entries[0].Results)

	assert.Equal(t, "a", entries[1].ID)
	assert.Equal(t, device.KindDisplay, entries[1].Kind)
	assert.True(t, start.Equal(entries[1].StartedAt))
	assert.Equal(t, 120*time.Millisecond, entries[1].Duration)
	require.Len(t, entries[1].Results, 2)
	assert.Equal(t, "display2", entries[1].Results[1].Device)
	assert.Equal(t, "timeout", entries[1].Results[1].Error)
}

func TestRecentEmpty(t *testing.T) {
	entries, err := newStore(t, 0).Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestRecordPrunesToLimit(t *testing.T) {
	store := newStore(t, 3)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, store.Record(ctx, history.Entry{ID: id, Kind: device.KindDisplay, Action: "GetBrightness", StartedAt: time.Now()}))
	}

	entries, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "5", entries[0].ID)
	assert.Equal(t, "3", entries[2].ID)
}

func TestObserver(t *testing.T) {
	store := newStore(t, 0)

	observe := store.Observer()
	observe(dispatch.Outcome{
		Kind:      device.KindDiscPlayer,
		Action:    dispatch.Play,
		Results:   []device.Result{{Device: "bluray", Data: "ok"}},
		StartedAt: time.Now(),
	})

	var entries []history.Entry
	require.Eventually(t, func() bool {
		var err error
		entries, err = store.Recent(context.Background(), 1)
		return err == nil && len(entries) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, entries[0].ID)
	assert.Equal(t, "Play", entries[0].Action)
	assert.Equal(t, "ok", entries[0].Results[0].Data)
}

func TestCloseDrainsQueuedOutcomes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := history.NewStore(path, 0, zerolog.Nop())
	require.NoError(t, err)

	observe := store.Observer()
	for i := 0; i < 5; i++ {
		observe(dispatch.Outcome{
			Kind:      device.KindDisplay,
			Action:    dispatch.GetPowerStatus,
			StartedAt: time.Now(),
		})
	}
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	// outcomes after Close are ignored
	observe(dispatch.Outcome{Kind: device.KindDisplay, Action: dispatch.SetPowerOff})

	reopened, err := history.NewStore(path, 0, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestRecordDuplicateID(t *testing.T) {
	store := newStore(t, 0)
	ctx := context.Background()
	e := history.Entry{ID: "same", Kind: device.KindDisplay, Action: "SetPowerOff", StartedAt: time.Now()}

	require.NoError(t, store.Record(ctx, e))
	assert.Error(t, store.Record(ctx, e))
}
