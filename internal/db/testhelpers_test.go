package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/regionsys/internal/regiondata"
	"github.com/udisondev/regionsys/internal/testutil"
)

// forEachStore запускает fn для каждой реализации Store на чистой базе.
// PostgreSQL пропускается, если Docker недоступен или включён -short.
func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Helper()

	t.Run("sqlite", func(t *testing.T) {
		store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "regions.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		fn(t, store)
	})

	t.Run("postgres", func(t *testing.T) {
		if testing.Short() {
			t.Skip("skipping postgres store in short mode")
		}
		ctx := context.Background()
		dsn := testutil.SetupTestDB(t)
		require.NoError(t, RunMigrations(ctx, dsn))

		store, err := NewPostgresStore(ctx, dsn)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		fn(t, store)
	})
}

func sampleDocument() regiondata.Document {
	return regiondata.Document{
		Version:  regiondata.Version,
		AreaRoot: "Regions.Areas",
		Regions: []regiondata.RegionDTO{
			{
				ID:       1,
				Name:     "town",
				Priority: 1,
				Tags:     []string{"Region.Safe", "Regions.Areas.Town"},
				Shape: regiondata.ShapeDTO{
					Kind:        regiondata.KindBox,
					Center:      [3]float64{5, 5, 5},
					HalfExtents: [3]float64{5, 5, 5},
					Rotation:    &[4]float64{0, 0, 0, 1},
				},
				POIs: [][3]float64{{1, 1, 0}, {9, 9, 0}},
			},
			{
				ID:    2,
				Name:  "arena",
				Shape: regiondata.ShapeDTO{Kind: regiondata.KindSphere, Center: [3]float64{20, 0, 0}, Radius: 3},
			},
			{
				ID:       3,
				Name:     "field",
				Priority: -2,
				Tags:     []string{"Region.Wild"},
				Shape: regiondata.ShapeDTO{
					Kind:      regiondata.KindHull,
					Footprint: [][2]float64{{0, 0}, {10, 0}, {5, 8}},
					MinZ:      -1,
					MaxZ:      4,
				},
			},
		},
	}
}
