// Package pagetree holds the pure tree logic behind page moves, copies and
// ordering. Callers load the affected rows, ask for a plan, and write the
// plan in one transaction; nothing here touches storage.
package pagetree

import (
	"errors"
	"sort"
)

type PageType string

const (
	TypeDocument PageType = "DOCUMENT"
	TypeFolder   PageType = "FOLDER"
	TypeChannel  PageType = "CHANNEL"
	TypeSheet    PageType = "SHEET"
	TypeAIChat   PageType = "AI_CHAT"
	TypeFile     PageType = "FILE"
)

// Spacing between positions when pages are appended or renumbered.
const Spacing = 1024.0

// minGap is the smallest gap a plan will split before renumbering siblings.
const minGap = 1e-6

var (
	ErrNotFound       = errors.New("page not found")
	ErrCycle          = errors.New("page cannot be moved under itself or a descendant")
	ErrCrossDrive     = errors.New("target parent belongs to a different drive")
	ErrInvalidParent  = errors.New("target page cannot contain children")
	ErrEmptySelection = errors.New("no pages selected")
)

// ValidType reports whether t is a known page type.
func ValidType(t PageType) bool {
	switch t {
	case TypeDocument, TypeFolder, TypeChannel, TypeSheet, TypeAIChat, TypeFile:
		return true
	}
	return false
}

// Node is the slice of a page row the tree logic needs.
type Node struct {
	ID       string
	DriveID  string
	ParentID *string
	Position float64
	Type     PageType
	Title    string
}

// TreeNode is a Node with its ordered children.
type TreeNode struct {
	Node
	Children []*TreeNode
	Depth    int
}

// Index is a lookup structure over a set of nodes, possibly spanning drives.
type Index struct {
	byID     map[string]Node
	children map[string][]string
}

// NewIndex indexes nodes by ID and by parent. Nodes whose parent is not in
// the set are treated as roots of their drive.
func NewIndex(nodes []Node) *Index {
	ix := &Index{
		byID:     make(map[string]Node, len(nodes)),
		children: make(map[string][]string),
	}
	for _, n := range nodes {
		ix.byID[n.ID] = n
	}
	for _, n := range nodes {
		key := ix.parentKey(n)
		ix.children[key] = append(ix.children[key], n.ID)
	}
	for key := range ix.children {
		ix.sortIDs(ix.children[key])
	}
	return ix
}

// parentKey is the children-map key for n: the parent ID, or "root:<drive>".
func (ix *Index) parentKey(n Node) string {
	if n.ParentID != nil {
		if _, ok := ix.byID[*n.ParentID]; ok {
			return *n.ParentID
		}
	}
	return rootKey(n.DriveID)
}

func rootKey(driveID string) string {
	return "root:" + driveID
}

func (ix *Index) sortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := ix.byID[ids[i]], ix.byID[ids[j]]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.ID < b.ID
	})
}

// Get returns the node with the given ID.
func (ix *Index) Get(id string) (Node, bool) {
	n, ok := ix.byID[id]
	return n, ok
}

// Children returns the ordered children of parentID within driveID. A nil
// parentID means the drive root.
func (ix *Index) Children(driveID string, parentID *string) []Node {
	key := rootKey(driveID)
	if parentID != nil {
		key = *parentID
	}
	ids := ix.children[key]
	out := make([]Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, ix.byID[id])
	}
	return out
}

// Descendants returns every ID below id in breadth-first order.
func (ix *Index) Descendants(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range ix.children[current] {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out
}

// IsAncestor reports whether ancestor appears on the parent chain of id.
func (ix *Index) IsAncestor(ancestor, id string) bool {
	seen := make(map[string]bool)
	current, ok := ix.byID[id]
	for ok && current.ParentID != nil {
		parentID := *current.ParentID
		if parentID == ancestor {
			return true
		}
		if seen[parentID] {
			return false
		}
		seen[parentID] = true
		current, ok = ix.byID[parentID]
	}
	return false
}

// Build assembles the forest for a set of nodes. Orphans become roots and
// any rows caught in a stored cycle are surfaced as roots instead of lost.
func Build(nodes []Node) []*TreeNode {
	ix := NewIndex(nodes)
	visited := make(map[string]bool, len(nodes))

	var build func(id string, depth int) *TreeNode
	build = func(id string, depth int) *TreeNode {
		visited[id] = true
		tn := &TreeNode{Node: ix.byID[id], Depth: depth, Children: []*TreeNode{}}
		for _, child := range ix.children[id] {
			if visited[child] {
				continue
			}
			tn.Children = append(tn.Children, build(child, depth+1))
		}
		return tn
	}

	rootIDs := make([]string, 0)
	for key, ids := range ix.children {
		if len(key) > 5 && key[:5] == "root:" {
			rootIDs = append(rootIDs, ids...)
		}
	}
	ix.sortIDs(rootIDs)

	roots := make([]*TreeNode, 0, len(rootIDs))
	for _, id := range rootIDs {
		roots = append(roots, build(id, 0))
	}

	leftovers := make([]string, 0)
	for _, n := range nodes {
		if !visited[n.ID] {
			leftovers = append(leftovers, n.ID)
		}
	}
	ix.sortIDs(leftovers)
	for _, id := range leftovers {
		if visited[id] {
			continue
		}
		roots = append(roots, build(id, 0))
	}
	return roots
}

// selection de-duplicates ids, preserving the caller's order, and checks
// that each one exists.
func (ix *Index) selection(ids []string) ([]Node, error) {
	if len(ids) == 0 {
		return nil, ErrEmptySelection
	}
	out := make([]Node, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		n, ok := ix.byID[id]
		if !ok {
			return nil, ErrNotFound
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, n)
	}
	return out, nil
}

// selectionRoots is selection minus any page whose ancestor is also
// selected.
func (ix *Index) selectionRoots(ids []string) ([]Node, error) {
	selected, err := ix.selection(ids)
	if err != nil {
		return nil, err
	}
	out := make([]Node, 0, len(selected))
	for _, n := range selected {
		covered := false
		for _, other := range selected {
			if other.ID != n.ID && ix.IsAncestor(other.ID, n.ID) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, n)
		}
	}
	return out, nil
}

// checkTarget verifies that parentID can receive children in driveID.
func (ix *Index) checkTarget(driveID string, parentID *string) error {
	if parentID == nil {
		return nil
	}
	parent, ok := ix.byID[*parentID]
	if !ok {
		return ErrNotFound
	}
	if parent.DriveID != driveID {
		return ErrCrossDrive
	}
	if parent.Type == TypeFile {
		return ErrInvalidParent
	}
	return nil
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
