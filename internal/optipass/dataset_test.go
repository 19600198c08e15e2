package optipass

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tidegates/internal/fsutil"
	"github.com/banshee-data/tidegates/internal/testutil"
)

func TestLoader_RegionAndTargetFilter(t *testing.T) {
	testutil.QuietLogs(t)

	ds := loadFixture(t, []string{"T1", "T2"}, nil)
	assert.Len(t, ds.Barriers, 6)
	assert.Equal(t, 6, ds.Passability.Len())
	assert.Len(t, ds.Targets, 2)
	assert.Len(t, ds.Mapping, 2)
	assert.Equal(t, []string{"T1", "T2"}, ds.TargetAbbrevs())
	assert.False(t, ds.Passability.HasBarrier("G"), "G is in an unselected region")
}

func TestLoader_OneRegionOneTarget(t *testing.T) {
	testutil.QuietLogs(t)

	ds, err := NewLoader(fsutil.OSFileSystem{}).Load(fixtureSources(), Selection{
		Regions: []string{"Trident"},
		Targets: []string{"T1"},
	})
	require.NoError(t, err)

	var ids []string
	for _, b := range ds.Barriers {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{"A", "B", "C", "E"}, ids)
	assert.Equal(t, 4, ds.Passability.Len())
	assert.Len(t, ds.Targets, 1)
	assert.Len(t, ds.Mapping, 1)
}

func TestLoader_BarrierFields(t *testing.T) {
	testutil.QuietLogs(t)

	ds := loadFixture(t, []string{"T1"}, nil)
	want := []Barrier{
		{ID: "A", Region: "Trident", DSID: "", Cost: 150000, NProj: 1},
		{ID: "B", Region: "Trident", DSID: "A", Cost: 70000, NProj: 1},
		{ID: "C", Region: "Trident", DSID: "B", Cost: 80000, NProj: 1},
		{ID: "D", Region: "Red Fork", DSID: "A", Cost: 90000, NProj: 1},
		{ID: "E", Region: "Trident", DSID: "B", Cost: 100000, NProj: 1},
		{ID: "F", Region: "Red Fork", DSID: "D", Cost: 100000, NProj: 1},
	}
	if diff := cmp.Diff(want, ds.Barriers); diff != "" {
		t.Errorf("barriers mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_Weights(t *testing.T) {
	testutil.QuietLogs(t)

	ds := loadFixture(t, []string{"T1", "T2"}, nil)
	assert.Equal(t, []int{1, 1}, ds.Weights)
	assert.False(t, ds.Weighted)

	ds = loadFixture(t, []string{"T1", "T2"}, []int{1, 2})
	assert.Equal(t, []int{1, 2}, ds.Weights)
	assert.True(t, ds.Weighted)
}

func TestLoader_TargetOrderFollowsSelection(t *testing.T) {
	testutil.QuietLogs(t)

	ds := loadFixture(t, []string{"T2", "T1"}, []int{5, 7})
	assert.Equal(t, []string{"T2", "T1"}, ds.TargetAbbrevs())
	assert.Equal(t, []int{5, 7}, ds.Weights)
}

func TestLoader_MappingOverridesTargetColumns(t *testing.T) {
	testutil.QuietLogs(t)

	ds := loadFixture(t, []string{"T3"}, nil)
	require.Len(t, ds.Targets, 1)
	tgt := ds.Targets[0]
	assert.Equal(t, "Marsh", tgt.Name)
	assert.True(t, tgt.Infra)
	assert.Equal(t, TargetColumns{Habitat: "HAB2", Prepass: "PRE1", Postpass: "POST2", Unscaled: "UNSC2"}, tgt.Columns)

	// without a mapping file the target table's references stand
	src := fixtureSources()
	src.MappingFile = ""
	ds, err := NewLoader(fsutil.OSFileSystem{}).Load(src, Selection{Regions: fixtureRegions, Targets: []string{"T3"}})
	require.NoError(t, err)
	assert.Equal(t, "HAB1", ds.Targets[0].Columns.Habitat)
	assert.Empty(t, ds.Mapping)
}

func TestLoader_MissingPassabilityIsNaN(t *testing.T) {
	testutil.QuietLogs(t)

	ds, err := NewLoader(fsutil.OSFileSystem{}).Load(fixtureSources(), Selection{
		Regions: []string{"Siletz"},
		Targets: []string{"T2"},
	})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(ds.Passability.Value("G", "PRE2")))
	assert.Equal(t, 0.9, ds.Passability.Value("G", "POST2"))
	assert.True(t, math.IsNaN(ds.Passability.Value("G", "NOPE")))
	assert.True(t, math.IsNaN(ds.Passability.Value("Z", "PRE2")))
}

func TestLoader_ValidationErrors(t *testing.T) {
	testutil.QuietLogs(t)

	tests := []struct {
		name string
		sel  Selection
	}{
		{"unknown target", Selection{Regions: fixtureRegions, Targets: []string{"T1", "XX"}}},
		{"no targets", Selection{Regions: fixtureRegions}},
		{"no regions", Selection{Targets: []string{"T1"}}},
		{"empty region", Selection{Regions: []string{""}, Targets: []string{"T1"}}},
		{"empty target", Selection{Regions: fixtureRegions, Targets: []string{" "}}},
		{"duplicate target", Selection{Regions: fixtureRegions, Targets: []string{"T1", "T1"}}},
		{"weight count mismatch", Selection{Regions: fixtureRegions, Targets: []string{"T1", "T2"}, Weights: []int{3}}},
		{"negative weight", Selection{Regions: fixtureRegions, Targets: []string{"T1"}, Weights: []int{-1}}},
		{"region without barriers", Selection{Regions: []string{"Nowhere"}, Targets: []string{"T1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(fsutil.OSFileSystem{}).Load(fixtureSources(), tt.sel)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestLoader_MalformedFiles(t *testing.T) {
	testutil.QuietLogs(t)

	tests := []struct {
		name  string
		path  string
		data  string
		isErr error
	}{
		{"missing barrier column", "testdata/barriers/barriers.csv", "ID,region,cost,NPROJ\nA,Trident,1,1\n", ErrValidation},
		{"bad cost", "testdata/barriers/barriers.csv", "ID,region,DSID,cost,NPROJ\nA,Trident,,lots,1\n", ErrValidation},
		{"negative cost", "testdata/barriers/barriers.csv", "ID,region,DSID,cost,NPROJ\nA,Trident,,-5,1\n", ErrValidation},
		{"bad passability", "testdata/barriers/passability.csv", "ID,HAB1,PRE1,POST1,UNSC1\nA,x,1,1,1\n", ErrValidation},
		{"mapped column missing", "testdata/colnames/colnames.csv", "abbrev,habitat,prepass,postpass,unscaled\nT1,HAB9,PRE1,POST1,UNSC1\n", ErrValidation},
		{"empty targets file", "testdata/targets/targets.csv", "", ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mfs := fixtureFS(t)
			require.NoError(t, mfs.WriteFile(tt.path, []byte(tt.data), 0644))

			_, err := NewLoader(mfs).Load(fixtureSources(), Selection{Regions: fixtureRegions, Targets: []string{"T1"}})
			assert.ErrorIs(t, err, tt.isErr)
		})
	}
}

func TestLoader_MissingFile(t *testing.T) {
	testutil.QuietLogs(t)

	src := fixtureSources()
	src.TargetFile = "testdata/targets/absent.csv"
	_, err := NewLoader(fsutil.OSFileSystem{}).Load(src, Selection{Regions: fixtureRegions, Targets: []string{"T1"}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrValidation)
}

func TestLoader_ByteOrderMarkAndNA(t *testing.T) {
	testutil.QuietLogs(t)

	mfs := fixtureFS(t)
	barriers := "\ufeffID,region,DSID,cost,NPROJ\nA,Trident,NA,100,1\nB,Trident,A,NA,\n"
	require.NoError(t, mfs.WriteFile("testdata/barriers/barriers.csv", []byte(barriers), 0644))

	ds, err := NewLoader(mfs).Load(fixtureSources(), Selection{Regions: []string{"Trident"}, Targets: []string{"T1"}})
	require.NoError(t, err)
	require.Len(t, ds.Barriers, 2)
	assert.Equal(t, "", ds.Barriers[0].DSID)
	assert.True(t, math.IsNaN(ds.Barriers[1].Cost))
	assert.Equal(t, 0, ds.Barriers[1].NProj)
}

func TestLoader_Catalog(t *testing.T) {
	l := NewLoader(fsutil.OSFileSystem{})

	regions, err := l.Regions("testdata/barriers")
	require.NoError(t, err)
	assert.Equal(t, []string{"Red Fork", "Siletz", "Trident"}, regions)

	targets, err := l.Targets("testdata/targets/targets.csv")
	require.NoError(t, err)
	require.Len(t, targets, 3)
	assert.Equal(t, "T1", targets[0].Abbrev)
	assert.Equal(t, "Fish Habitat (T1)", targets[0].Label)
	assert.True(t, targets[2].Infra)
	assert.Equal(t, TargetColumns{Habitat: "HAB1", Prepass: "PRE1", Postpass: "POST1", Unscaled: "UNSC1"}, targets[2].Columns)

	_, err = l.Regions("testdata/nowhere")
	assert.Error(t, err)
}
