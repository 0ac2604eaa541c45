package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/regionsys/internal/geom"
	"github.com/udisondev/regionsys/internal/region"
	"github.com/udisondev/regionsys/internal/testutil"
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "events")

	h1 := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	h2 := h1.Add(2 * time.Minute)

	w.now = fixedClock(h1)
	require.NoError(t, w.Write(Record{Type: "enter", Region: 1, Agent: 7}))
	w.now = fixedClock(h2)
	require.NoError(t, w.Write(Record{Type: "exit", Region: 1, Agent: 7}))
	require.NoError(t, w.Close())

	assert.Equal(t, filepath.Join(dir, "events-2026-03-01-10.jsonl.zst"), w.Path(h1))

	first, err := ReadFile(w.Path(h1))
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "enter", first[0].Type)

	second, err := ReadFile(w.Path(h2))
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "exit", second[0].Type)
}

func TestJournal_RecordsRegistryEvents(t *testing.T) {
	positions := testutil.NewPositions[region.AgentHandle]()
	reg := region.New(positions, region.DefaultOptions())

	j := New(t.TempDir(), "events", 16)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j.w.now = fixedClock(now)
	detach := j.Attach(reg)
	defer detach()

	box, err := geom.NewAxisBox(geom.Point3{0, 0, 0}, geom.Point3{10, 10, 10})
	require.NoError(t, err)
	id, err := reg.Create(region.Spec{Name: "safe", Volume: box})
	require.NoError(t, err)

	positions.Set(1, geom.Point3{5, 5, 5})
	reg.Track(1)
	reg.Tick()

	positions.Set(1, geom.Point3{50, 5, 5})
	reg.Tick()

	ctx, cancel := testutil.ContextWithCancel(t)
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()
	cancel()
	require.True(t, errors.Is(<-done, context.Canceled))

	records, err := ReadFile(j.w.Path(now))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "region_added", records[0].Type)
	assert.Equal(t, uint64(id), records[0].Region)
	assert.Equal(t, "enter", records[1].Type)
	assert.Equal(t, uint64(1), records[1].Agent)
	assert.Equal(t, uint64(1), records[1].Tick)
	assert.Equal(t, "exit", records[2].Type)
	assert.Equal(t, uint64(2), records[2].Tick)
	assert.Zero(t, j.Dropped())
}

func TestJournal_DropsWhenFull(t *testing.T) {
	j := New(t.TempDir(), "events", 1)
	j.push(Record{Type: "enter"})
	j.push(Record{Type: "enter"})
	j.push(Record{Type: "enter"})
	assert.Equal(t, uint64(2), j.Dropped())
}
