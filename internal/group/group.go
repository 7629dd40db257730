// Package group stores directed, weighted membership edges between group
// ids and members (which may themselves be group ids) and resolves
// transitive, signed membership.
//
// Group ids use the "g:" namespace (see ID). Positive weight means
// inclusion, negative means exclusion; magnitude composes multiplicatively
// across nested groups.
package group

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	// Inc and Exc are the conventional full-strength weights.
	Inc = 1.0
	Exc = -1.0

	prefix = "g:"
)

// ID builds a group id from name parts: ID("game1", "all") -> "g:game1/all".
func ID(parts ...string) string {
	return prefix + strings.Join(parts, "/")
}

// IsID reports whether s names a group rather than a concrete member.
func IsID(s string) bool { return strings.HasPrefix(s, prefix) }

// Logger is the observer the store reports cycle truncations to.
type Logger interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

type nopLogger struct{}

func (nopLogger) Info(string)  {}
func (nopLogger) Warn(string)  {}
func (nopLogger) Error(string) {}

// Store owns the edge table. Edges may be read and written concurrently;
// each upsert/remove is atomic. Groups are implicit: they exist while
// they have edges.
type Store struct {
	mu    sync.RWMutex
	edges map[string]map[string]float64
	log   Logger
}

func NewStore(log Logger) *Store {
	if log == nil {
		log = nopLogger{}
	}
	return &Store{edges: make(map[string]map[string]float64), log: log}
}

// Add upserts the (gid, member) edge. Weights are clamped to [-1, 1];
// a group has at most one weight per member, last write wins.
func (s *Store) Add(gid, member string, weight float64) {
	if weight > 1 {
		weight = 1
	}
	if weight < -1 {
		weight = -1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.edges[gid]
	if m == nil {
		m = make(map[string]float64)
		s.edges[gid] = m
	}
	m[member] = weight
}

// Rm removes the (gid, member) edge, reporting whether it existed.
func (s *Store) Rm(gid, member string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.edges[gid]
	if !ok {
		return false
	}
	if _, ok := m[member]; !ok {
		return false
	}
	delete(m, member)
	if len(m) == 0 {
		delete(s.edges, gid)
	}
	return true
}

// Children returns the direct edges of gid.
func (s *Store) Children(gid string) map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.edges[gid]))
	for m, w := range s.edges[gid] {
		out[m] = w
	}
	return out
}

// Descendants resolves transitive membership of gid.
//
// Nested groups contribute their own positive descendants scaled by the
// edge weight; non-positive scores stay local to the subgroup and never
// propagate upward. Direct edges, whatever their sign, override anything
// inherited for the same member: the closest explicit statement wins.
// Unknown group ids resolve to an empty contribution.
//
// One visited set is shared across the whole resolution, so a subgraph
// reachable along several paths is traversed once (first path wins) and
// cycles are silently truncated. Children are walked by weight ascending,
// ties by member id.
func (s *Store) Descendants(gid string) map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolve(gid, make(map[string]bool))
}

func (s *Store) resolve(gid string, visited map[string]bool) map[string]float64 {
	if visited[gid] {
		s.log.Warn(fmt.Sprintf("group %s: circular reference truncated", gid))
		return nil
	}
	visited[gid] = true

	children := make([]edge, 0, len(s.edges[gid]))
	for m, w := range s.edges[gid] {
		children = append(children, edge{member: m, weight: w})
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].weight != children[j].weight {
			return children[i].weight < children[j].weight
		}
		return children[i].member < children[j].member
	})

	indirect := make(map[string]float64)
	direct := make(map[string]float64, len(children))
	for _, c := range children {
		direct[c.member] = c.weight
		if !IsID(c.member) {
			continue
		}
		for m, score := range s.resolve(c.member, visited) {
			if score > 0 {
				indirect[m] += c.weight * score
			}
		}
	}

	for m, w := range direct {
		indirect[m] = w
	}
	return indirect
}

type edge struct {
	member string
	weight float64
}

// Members returns the concrete members of gid with positive resolved
// weight, sorted. Group ids appearing in the resolution are dropped —
// this is the view visibility construction wants.
func (s *Store) Members(gid string) []string {
	var out []string
	for m, w := range s.Descendants(gid) {
		if w > 0 && !IsID(m) {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}
