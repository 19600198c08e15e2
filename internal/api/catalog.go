package api

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/banshee-data/tidegates/internal/fsutil"
	"github.com/banshee-data/tidegates/internal/monitoring"
	"github.com/banshee-data/tidegates/internal/optipass"
	"github.com/banshee-data/tidegates/internal/security"
)

// Data areas under the data root. Each holds one subdirectory per project.
const (
	BarriersArea = "barriers"
	TargetsArea  = "targets"
	ColnamesArea = "colnames"
	MapsArea     = "maps"
)

// Files inside the data areas.
const (
	TargetFile  = "targets.csv"
	ColnameFile = "colnames.csv"
	MapInfoFile = "mapinfo.json"
	// LayoutFile optionally sets the display order of a project's targets.
	LayoutFile = "layout.txt"
)

// ErrUnknownProject is returned for a project name not in the catalog.
var ErrUnknownProject = errors.New("unknown project")

// ErrNoColnames is returned when a project has no usable column mapping.
var ErrNoColnames = errors.New("no column mapping")

// ErrNotFound is returned by Client for a 404 response.
var ErrNotFound = errors.New("not found")

// Catalog indexes the projects found under a data root. It is built once
// at startup and is read-only afterwards.
type Catalog struct {
	fs       fsutil.FileSystem
	root     string
	projects []string
	regions  map[string][]string
}

// LoadCatalog finds every project with a barrier table under root and
// records its region names.
func LoadCatalog(fs fsutil.FileSystem, root string) (*Catalog, error) {
	matches, err := fs.Glob(filepath.Join(root, BarriersArea, "*", optipass.BarrierFile))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	c := &Catalog{fs: fs, root: root, regions: make(map[string][]string, len(matches))}
	loader := optipass.NewLoader(fs)
	for _, m := range matches {
		dir := filepath.Dir(m)
		project := filepath.Base(dir)
		regions, err := loader.Regions(dir)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", project, err)
		}
		c.projects = append(c.projects, project)
		c.regions[project] = regions
	}
	slices.Sort(c.projects)

	monitoring.Logf("catalog: %d projects under %s: %v", len(c.projects), root, c.projects)
	return c, nil
}

// Projects returns the project names in sorted order.
func (c *Catalog) Projects() []string {
	return slices.Clone(c.projects)
}

// Has reports whether project is in the catalog.
func (c *Catalog) Has(project string) bool {
	_, ok := c.regions[project]
	return ok
}

// Regions returns the region names of project.
func (c *Catalog) Regions(project string) []string {
	return slices.Clone(c.regions[project])
}

func (c *Catalog) path(area, project string, elem ...string) string {
	return filepath.Join(append([]string{c.root, area, project}, elem...)...)
}

// ReadText returns a data file of project with trailing whitespace removed.
func (c *Catalog) ReadText(area, project, name string) (string, error) {
	if !c.Has(project) {
		return "", fmt.Errorf("%w: %s", ErrUnknownProject, project)
	}
	data, err := c.fs.ReadFile(c.path(area, project, name))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), " \t\r\n"), nil
}

// Layout returns the display order of project's targets: the contents of
// layout.txt when present, otherwise the target abbreviations in table order
// separated by spaces.
func (c *Catalog) Layout(project string) (string, error) {
	if !c.Has(project) {
		return "", fmt.Errorf("%w: %s", ErrUnknownProject, project)
	}
	if c.fs.Exists(c.path(TargetsArea, project, LayoutFile)) {
		return c.ReadText(TargetsArea, project, LayoutFile)
	}
	targets, err := optipass.NewLoader(c.fs).Targets(c.path(TargetsArea, project, TargetFile))
	if err != nil {
		return "", err
	}
	abbrevs := make([]string, len(targets))
	for i, t := range targets {
		abbrevs[i] = t.Abbrev
	}
	return strings.Join(abbrevs, " "), nil
}

// Colnames describes a project's column mappings. A project either has a
// single colnames.csv (Name is nil) or one named directory of alternative
// mappings, listed by file stem.
type Colnames struct {
	Name  *string  `json:"name"`
	Files []string `json:"files"`
}

// Colnames returns the column mappings available for project.
func (c *Catalog) Colnames(project string) (*Colnames, error) {
	if !c.Has(project) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProject, project)
	}
	if c.fs.Exists(c.path(ColnamesArea, project, ColnameFile)) {
		return &Colnames{Files: []string{ColnameFile}}, nil
	}

	matches, err := c.fs.Glob(c.path(ColnamesArea, project, "*", "*.csv"))
	if err != nil {
		return nil, err
	}
	var dirs, stems []string
	for _, m := range matches {
		if d := filepath.Base(filepath.Dir(m)); !slices.Contains(dirs, d) {
			dirs = append(dirs, d)
		}
		stems = append(stems, strings.TrimSuffix(filepath.Base(m), ".csv"))
	}
	if len(dirs) != 1 {
		return nil, fmt.Errorf("%w for %s", ErrNoColnames, project)
	}
	slices.Sort(stems)
	return &Colnames{Name: &dirs[0], Files: stems}, nil
}

// Sources resolves the dataset locations of project. mapping names one of
// the alternative column mappings; when empty the project's colnames.csv is
// used if it has one.
func (c *Catalog) Sources(project, mapping string) (optipass.Sources, error) {
	if !c.Has(project) {
		return optipass.Sources{}, fmt.Errorf("%w: %s", ErrUnknownProject, project)
	}
	src := optipass.Sources{
		BarrierDir: c.path(BarriersArea, project),
		TargetFile: c.path(TargetsArea, project, TargetFile),
	}
	if mapping == "" {
		if f := c.path(ColnamesArea, project, ColnameFile); c.fs.Exists(f) {
			src.MappingFile = f
		}
		return src, nil
	}

	info, err := c.Colnames(project)
	if err != nil || info.Name == nil || !slices.Contains(info.Files, mapping) {
		return optipass.Sources{}, fmt.Errorf("%w: project %s has no column mapping %q", optipass.ErrValidation, project, mapping)
	}
	src.MappingFile = c.path(ColnamesArea, project, *info.Name, mapping+".csv")
	return src, nil
}

// MapFile returns the path of a static map file of project. name must be a
// plain file name.
func (c *Catalog) MapFile(project, name string) (string, error) {
	if !c.Has(project) {
		return "", fmt.Errorf("%w: %s", ErrUnknownProject, project)
	}
	if err := security.ValidateFileName(name); err != nil {
		return "", fmt.Errorf("%w: map file: %v", optipass.ErrValidation, err)
	}
	return c.path(MapsArea, project, name), nil
}
