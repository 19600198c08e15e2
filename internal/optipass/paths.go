package optipass

import (
	"errors"
	"slices"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/graph/traverse"

	"github.com/banshee-data/tidegates/internal/monitoring"
)

// PathIndex maps every barrier to its downstream path: the barrier itself
// followed by each barrier passed on the way to the outlet.
type PathIndex struct {
	paths map[string][]string
}

// NewPathIndex builds the downstream graph for barriers and computes every
// barrier's path. Duplicate IDs, self references and cycles are validation
// errors. A DSID naming a barrier outside the set ends the path there.
func NewPathIndex(barriers []Barrier) (*PathIndex, error) {
	ids := make(map[string]int64, len(barriers))
	names := make([]string, len(barriers))
	g := simple.NewDirectedGraph()
	for i, b := range barriers {
		if _, dup := ids[b.ID]; dup {
			return nil, validationf("duplicate barrier ID %q", b.ID)
		}
		ids[b.ID] = int64(i)
		names[i] = b.ID
		g.AddNode(simple.Node(i))
	}

	for i, b := range barriers {
		if b.DSID == "" {
			continue
		}
		if b.DSID == b.ID {
			return nil, validationf("barrier %q is its own downstream barrier", b.ID)
		}
		ds, ok := ids[b.DSID]
		if !ok {
			monitoring.Logf("optipass: barrier %s: downstream %s not in selected regions, treating as outlet", b.ID, b.DSID)
			continue
		}
		g.SetEdge(simple.Edge{F: simple.Node(i), T: simple.Node(ds)})
	}

	if _, err := topo.Sort(g); err != nil {
		var cycles topo.Unorderable
		if errors.As(err, &cycles) {
			return nil, validationf("downstream cycle among barriers %s", cycleNames(cycles, names))
		}
		return nil, validationf("downstream graph: %v", err)
	}

	idx := &PathIndex{paths: make(map[string][]string, len(barriers))}
	for i, id := range names {
		var path []string
		w := traverse.DepthFirst{
			Visit: func(n graph.Node) { path = append(path, names[n.ID()]) },
		}
		w.Walk(g, simple.Node(i), nil)
		idx.paths[id] = path
	}
	return idx, nil
}

func cycleNames(cycles topo.Unorderable, names []string) string {
	var groups []string
	for _, c := range cycles {
		ids := make([]string, len(c))
		for i, n := range c {
			ids[i] = names[n.ID()]
		}
		slices.Sort(ids)
		groups = append(groups, strings.Join(ids, ","))
	}
	slices.Sort(groups)
	return "[" + strings.Join(groups, "] [") + "]"
}

// Path returns the downstream path for id, or nil if id is unknown.
func (p *PathIndex) Path(id string) []string {
	return p.paths[id]
}

// Len returns the number of barriers in the index.
func (p *PathIndex) Len() int { return len(p.paths) }
