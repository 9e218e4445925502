// Package node defines query nodes and their in-memory registry.
//
// A node is a user-defined named query, its optional connection reference,
// and its derived dependency set. Persistence of node definitions is
// handled by internal/state; the registry here is the live working set
// the coordinator operates on.
package node

import (
	"fmt"
	"sort"
	"sync"

	"github.com/querydeck-io/querydeck/internal/catalog"
)

// Node is a user-defined unit of work.
type Node struct {
	// ID is the stable node identifier.
	ID int64

	// Name is the user-editable display name. The materialized table name
	// is derived from it via catalog.SanitizeTableName.
	Name string

	// QueryText is the node's SQL.
	QueryText string

	// ConnectionRef names the backend connection to execute against.
	// Empty means the local embedded engine.
	ConnectionRef string

	// DependencyIDs is the derived set of producer nodes. Recomputed by
	// the coordinator on query-text edits and catalog changes, never
	// authored directly.
	DependencyIDs []int64
}

// TableName returns the node's materialized table name.
func (n *Node) TableName() string {
	return catalog.SanitizeTableName(n.Name)
}

// Registry is the in-memory set of nodes, keyed by ID.
type Registry struct {
	mu     sync.RWMutex
	nodes  map[int64]*Node
	nextID int64
}

// NewRegistry creates an empty node registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[int64]*Node)}
}

// Add registers a node. A zero ID is assigned the next free identifier.
// Returns the node's ID.
func (r *Registry) Add(n *Node) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.ID == 0 {
		r.nextID++
		n.ID = r.nextID
	} else if n.ID > r.nextID {
		r.nextID = n.ID
	}
	r.nodes[n.ID] = n
	return n.ID
}

// Get returns a copy of the node, if present.
func (r *Registry) Get(id int64) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	if !ok {
		return Node{}, false
	}
	return cloneNode(n), true
}

// SetQueryText replaces a node's query text.
func (r *Registry) SetQueryText(id int64, queryText string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return fmt.Errorf("node %d not found", id)
	}
	n.QueryText = queryText
	return nil
}

// SetDependencies replaces a node's derived dependency set.
func (r *Registry) SetDependencies(id int64, depIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return fmt.Errorf("node %d not found", id)
	}
	deps := make([]int64, len(depIDs))
	copy(deps, depIDs)
	sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
	n.DependencyIDs = deps
	return nil
}

// Remove deletes a node. The node's materialized table is not dropped;
// the catalog entry survives until its table is replaced or removed.
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, id)
}

// List returns copies of all nodes, sorted by ID.
func (r *Registry) List() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, cloneNode(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindByTableName returns the node whose sanitized name matches the given
// table name. Covers resolution when the catalog has not been populated
// yet, e.g. after a cold reload.
func (r *Registry) FindByTableName(table string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.nodes {
		if catalog.SanitizeTableName(n.Name) == table {
			return cloneNode(n), true
		}
	}
	return Node{}, false
}

func cloneNode(n *Node) Node {
	out := *n
	out.DependencyIDs = make([]int64, len(n.DependencyIDs))
	copy(out.DependencyIDs, n.DependencyIDs)
	return out
}
