package optipass

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tidegates/internal/fsutil"
	"github.com/banshee-data/tidegates/internal/testutil"
)

// Regions covering barriers A-F of the fixture dataset.
var fixtureRegions = []string{"Trident", "Red Fork"}

func fixtureSources() Sources {
	return Sources{
		BarrierDir:  "testdata/barriers",
		TargetFile:  "testdata/targets/targets.csv",
		MappingFile: "testdata/colnames/colnames.csv",
	}
}

// fixtureFS returns an in-memory copy of testdata.
func fixtureFS(t *testing.T) *fsutil.MemoryFileSystem {
	t.Helper()
	return testutil.MemoryFS(t, "testdata")
}

func loadFixture(t *testing.T, targets []string, weights []int) *Dataset {
	t.Helper()
	ds, err := NewLoader(fsutil.OSFileSystem{}).Load(fixtureSources(), Selection{
		Regions: fixtureRegions,
		Targets: targets,
		Weights: weights,
	})
	require.NoError(t, err)
	return ds
}

