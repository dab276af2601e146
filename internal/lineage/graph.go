// internal/lineage/graph.go
package lineage

import (
	"sort"
	"sync"

	"github.com/scriptloom/scriptloom/internal/models"
)

// Graph is the in-memory transform lineage: an adjacency index over the
// append-only transform log. Nodes are entity ids (documents, patch sets)
// and transform ids; an edge runs from every input id to the transform that
// consumed it. Inputs of a recorded transform never change, so the index
// only ever grows.
type Graph struct {
	mu         sync.RWMutex
	transforms map[string]*models.Transform
	consumers  map[string][]string // node id -> transform ids that consume it
	byProject  map[string][]string // project id -> transform ids, insertion order

	subscribers map[string]map[chan Update]bool
	lastPending map[string][]string
}

// NewGraph creates an empty lineage graph.
func NewGraph() *Graph {
	return &Graph{
		transforms:  make(map[string]*models.Transform),
		consumers:   make(map[string][]string),
		byProject:   make(map[string][]string),
		subscribers: make(map[string]map[chan Update]bool),
		lastPending: make(map[string][]string),
	}
}

// AddTransform records a transform and indexes its input edges. Re-adding an
// existing id updates the stored record (status, outputs) without
// duplicating edges.
func (g *Graph) AddTransform(t *models.Transform) {
	if t == nil || t.ID == "" {
		return
	}

	g.mu.Lock()

	if _, exists := g.transforms[t.ID]; !exists {
		for _, input := range t.InputIDs {
			g.consumers[input] = append(g.consumers[input], t.ID)
		}
		g.byProject[t.ProjectID] = append(g.byProject[t.ProjectID], t.ID)
	}
	g.transforms[t.ID] = t

	g.mu.Unlock()

	g.Broadcast(t.ProjectID)
}

// Transform returns the stored record by id.
func (g *Graph) Transform(id string) (*models.Transform, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.transforms[id]
	return t, ok
}

// ProjectTransforms returns a project's transforms in insertion order.
func (g *Graph) ProjectTransforms(projectID string) []*models.Transform {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := g.byProject[projectID]
	out := make([]*models.Transform, 0, len(ids))
	for _, id := range ids {
		if t, ok := g.transforms[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Descendants returns every transform reachable downstream of the given
// node id, in visit order.
func (g *Graph) Descendants(nodeID string) []*models.Transform {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*models.Transform
	g.walkLocked(nodeID, func(t *models.Transform) bool {
		out = append(out, t)
		return false
	})
	return out
}

// HasDescendantOfType reports whether any downstream transform has one of
// the given types.
func (g *Graph) HasDescendantOfType(nodeID string, types ...models.TransformType) bool {
	wanted := make(map[models.TransformType]bool, len(types))
	for _, tt := range types {
		wanted[tt] = true
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	found := false
	g.walkLocked(nodeID, func(t *models.Transform) bool {
		if wanted[t.Type] {
			found = true
			return true
		}
		return false
	})
	return found
}

// walkLocked runs a DFS from rootID over consumer edges. The visited set
// guards against repeated nodes; malformed logs with cycles terminate
// instead of hanging. visit returning true stops the walk.
func (g *Graph) walkLocked(rootID string, visit func(*models.Transform) bool) {
	visited := map[string]bool{rootID: true}
	stack := []string{rootID}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, tid := range g.consumers[id] {
			if visited[tid] {
				continue
			}
			visited[tid] = true

			t, ok := g.transforms[tid]
			if !ok {
				continue
			}
			if visit(t) {
				return
			}

			// 继续沿该 transform 的产物下探
			stack = append(stack, tid)
			for _, out := range t.OutputIDs {
				if !visited[out] {
					visited[out] = true
					stack = append(stack, out)
				}
			}
			if t.PatchSetID != "" && !visited[t.PatchSetID] {
				visited[t.PatchSetID] = true
				stack = append(stack, t.PatchSetID)
			}
		}
	}
}

// PendingPatchSetIDs recomputes which patch sets still await a human
// decision, straight from the lineage rather than any materialized status: a
// patch set is pending while no approval, rejection or superseding edit is
// reachable downstream of it. Results are sorted for stable comparison.
func (g *Graph) PendingPatchSetIDs(projectID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pendingLocked(projectID)
}

func (g *Graph) pendingLocked(projectID string) []string {
	closing := []models.TransformType{
		models.TransformHumanPatchApproval,
		models.TransformHumanPatchReject,
		models.TransformHumanPatchEdit,
	}
	closingSet := make(map[models.TransformType]bool, len(closing))
	for _, tt := range closing {
		closingSet[tt] = true
	}

	pending := []string{}
	for _, tid := range g.byProject[projectID] {
		t, ok := g.transforms[tid]
		if !ok || t.PatchSetID == "" {
			continue
		}
		if t.Type != models.TransformAIPatch && t.Type != models.TransformHumanPatchEdit {
			continue
		}

		closed := false
		g.walkLocked(t.PatchSetID, func(desc *models.Transform) bool {
			if closingSet[desc.Type] {
				closed = true
				return true
			}
			return false
		})
		if !closed {
			pending = append(pending, t.PatchSetID)
		}
	}

	sort.Strings(pending)
	return pending
}
