package deps

import (
	"github.com/querydeck-io/querydeck/internal/backend"
	"github.com/querydeck-io/querydeck/internal/catalog"
	"github.com/querydeck-io/querydeck/internal/node"
)

// Result is the outcome of dependency resolution for one node's query.
type Result struct {
	// Refs are all table references found in the query text, in
	// discovery order.
	Refs []string

	// NodeDeps are the producer nodes the query depends on, in discovery
	// order of their references, deduplicated, with the node itself
	// excluded.
	NodeDeps []int64

	// External are references that resolve to no node. Not an error: they
	// may be raw tables in the local store or three-part cross-warehouse
	// names that resolve at execution time.
	External []string
}

// Resolve determines which producer nodes a query depends on.
//
// It is a pure function over current state: the caller triggers
// recomputation on query-text edits and on catalog version changes, since
// a catalog mutation elsewhere can change the answer for an unrelated node.
//
// Queries destined for a remote backend intentionally produce no
// dependency edges: a remote query is never blocked on a local producer.
func Resolve(queryText string, kind backend.Kind, cat *catalog.Catalog, nodes *node.Registry, selfID int64) Result {
	refs := ExtractTableRefs(queryText)
	res := Result{Refs: refs}

	if kind != backend.KindLocal {
		return res
	}

	seen := make(map[int64]bool)
	for _, ref := range refs {
		depID, ok := resolveRef(ref, cat, nodes)
		if !ok {
			res.External = append(res.External, ref)
			continue
		}
		if depID == selfID || seen[depID] {
			continue
		}
		seen[depID] = true
		res.NodeDeps = append(res.NodeDeps, depID)
	}

	return res
}

// resolveRef maps a table reference to its producer node. The catalog
// owner is authoritative when the table is materialized; otherwise the
// reference is matched against every node's sanitized name, which covers
// a cold start where the catalog has not been populated yet.
func resolveRef(ref string, cat *catalog.Catalog, nodes *node.Registry) (int64, bool) {
	if owner, ok := cat.Owner(ref); ok {
		return owner, true
	}
	if n, ok := nodes.FindByTableName(ref); ok {
		return n.ID, true
	}
	return 0, false
}
