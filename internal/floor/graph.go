package floor

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"table-service/internal/models"
)

//go:embed transitions.yaml
var defaultTransitions []byte

type graphFile struct {
	Initial     string              `yaml:"initial"`
	Transitions map[string][]string `yaml:"transitions"`
}

// Graph is the table status adjacency table.
type Graph struct {
	initial models.TableStatus
	edges   map[models.TableStatus]map[models.TableStatus]struct{}
}

// DefaultGraph returns the built-in transition table.
func DefaultGraph() *Graph {
	g, err := ParseGraph(defaultTransitions)
	if err != nil {
		panic(fmt.Sprintf("floor: embedded transitions invalid: %v", err))
	}
	return g
}

// LoadGraph reads a transitions file; an empty path selects the default.
func LoadGraph(path string) (*Graph, error) {
	if path == "" {
		return DefaultGraph(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transitions file: %w", err)
	}
	return ParseGraph(data)
}

func ParseGraph(data []byte) (*Graph, error) {
	var f graphFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse transitions: %w", err)
	}
	if len(f.Transitions) == 0 {
		return nil, fmt.Errorf("transitions table is empty")
	}

	g := &Graph{
		initial: models.TableStatus(f.Initial),
		edges:   make(map[models.TableStatus]map[models.TableStatus]struct{}, len(f.Transitions)),
	}
	for from, tos := range f.Transitions {
		set := make(map[models.TableStatus]struct{}, len(tos))
		for _, to := range tos {
			set[models.TableStatus(to)] = struct{}{}
		}
		g.edges[models.TableStatus(from)] = set
	}
	// every target must also be a declared state
	for from, tos := range g.edges {
		for to := range tos {
			if _, ok := g.edges[to]; !ok {
				return nil, fmt.Errorf("state %q reachable from %q is not declared", to, from)
			}
		}
	}
	if g.initial == "" {
		g.initial = models.TableFree
	}
	if !g.Known(g.initial) {
		return nil, fmt.Errorf("initial state %q is not declared", g.initial)
	}
	return g, nil
}

func (g *Graph) Initial() models.TableStatus {
	return g.initial
}

func (g *Graph) Known(s models.TableStatus) bool {
	_, ok := g.edges[s]
	return ok
}

// Allowed reports whether from -> to is legal. Same-state is always legal
// for a known state.
func (g *Graph) Allowed(from, to models.TableStatus) bool {
	if !g.Known(from) || !g.Known(to) {
		return false
	}
	if from == to {
		return true
	}
	_, ok := g.edges[from][to]
	return ok
}

func (g *Graph) Next(from models.TableStatus) []models.TableStatus {
	out := make([]models.TableStatus, 0, len(g.edges[from]))
	for to := range g.edges[from] {
		out = append(out, to)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (g *Graph) States() []models.TableStatus {
	out := make([]models.TableStatus, 0, len(g.edges))
	for s := range g.edges {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Path returns the shortest chain of statuses leading from -> to, excluding
// from itself. It is empty when from == to and nil when to is unreachable.
func (g *Graph) Path(from, to models.TableStatus) []models.TableStatus {
	if !g.Known(from) || !g.Known(to) {
		return nil
	}
	if from == to {
		return []models.TableStatus{}
	}

	prev := map[models.TableStatus]models.TableStatus{from: from}
	queue := []models.TableStatus{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.Next(cur) {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == to {
				var path []models.TableStatus
				for s := to; s != from; s = prev[s] {
					path = append([]models.TableStatus{s}, path...)
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}
