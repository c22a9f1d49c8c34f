package pagetree

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

// fixture:
//
//	drive-a
//	  folder (1024)
//	    doc-1 (1024)
//	      doc-1a (1024)
//	    doc-2 (2048)
//	  notes (2048)
//	  upload (3072, FILE)
//	drive-b
//	  inbox (1024)
func fixture() []Node {
	return []Node{
		{ID: "folder", DriveID: "drive-a", Position: 1024, Type: TypeFolder, Title: "Folder"},
		{ID: "doc-1", DriveID: "drive-a", ParentID: ptr("folder"), Position: 1024, Type: TypeDocument, Title: "Doc 1"},
		{ID: "doc-1a", DriveID: "drive-a", ParentID: ptr("doc-1"), Position: 1024, Type: TypeDocument, Title: "Doc 1a"},
		{ID: "doc-2", DriveID: "drive-a", ParentID: ptr("folder"), Position: 2048, Type: TypeDocument, Title: "Doc 2"},
		{ID: "notes", DriveID: "drive-a", Position: 2048, Type: TypeDocument, Title: "Notes"},
		{ID: "upload", DriveID: "drive-a", Position: 3072, Type: TypeFile, Title: "upload.pdf"},
		{ID: "inbox", DriveID: "drive-b", Position: 1024, Type: TypeFolder, Title: "Inbox"},
	}
}

func TestBuildOrdersChildrenAndDepth(t *testing.T) {
	roots := Build(fixture())
	require.Len(t, roots, 4)

	assert.Equal(t, "folder", roots[0].ID)
	require.Len(t, roots[0].Children, 2)
	assert.Equal(t, "doc-1", roots[0].Children[0].ID)
	assert.Equal(t, "doc-2", roots[0].Children[1].ID)
	assert.Equal(t, 2, roots[0].Children[0].Children[0].Depth)
}

func TestBuildSurfacesOrphansAndCycles(t *testing.T) {
	nodes := []Node{
		{ID: "orphan", DriveID: "d", ParentID: ptr("missing"), Position: 1},
		{ID: "x", DriveID: "d", ParentID: ptr("y"), Position: 2},
		{ID: "y", DriveID: "d", ParentID: ptr("x"), Position: 3},
	}
	roots := Build(nodes)

	seen := map[string]bool{}
	var walk func([]*TreeNode)
	walk = func(ns []*TreeNode) {
		for _, n := range ns {
			seen[n.ID] = true
			walk(n.Children)
		}
	}
	walk(roots)
	assert.True(t, seen["orphan"])
	assert.True(t, seen["x"])
	assert.True(t, seen["y"])
}

func TestDescendantsAndAncestors(t *testing.T) {
	ix := NewIndex(fixture())
	assert.Equal(t, []string{"doc-1", "doc-2", "doc-1a"}, ix.Descendants("folder"))
	assert.True(t, ix.IsAncestor("folder", "doc-1a"))
	assert.False(t, ix.IsAncestor("doc-2", "doc-1a"))
}

func TestValidateMove(t *testing.T) {
	ix := NewIndex(fixture())
	cases := []struct {
		name    string
		ids     []string
		drive   string
		parent  *string
		wantErr error
	}{
		{name: "to root", ids: []string{"doc-1"}, drive: "drive-a", parent: nil},
		{name: "under sibling", ids: []string{"doc-2"}, drive: "drive-a", parent: ptr("doc-1")},
		{name: "under itself", ids: []string{"folder"}, drive: "drive-a", parent: ptr("folder"), wantErr: ErrCycle},
		{name: "under descendant", ids: []string{"folder"}, drive: "drive-a", parent: ptr("doc-1a"), wantErr: ErrCycle},
		{name: "missing page", ids: []string{"ghost"}, drive: "drive-a", parent: nil, wantErr: ErrNotFound},
		{name: "missing parent", ids: []string{"doc-1"}, drive: "drive-a", parent: ptr("ghost"), wantErr: ErrNotFound},
		{name: "parent in other drive", ids: []string{"doc-1"}, drive: "drive-a", parent: ptr("inbox"), wantErr: ErrCrossDrive},
		{name: "file parent", ids: []string{"notes"}, drive: "drive-a", parent: ptr("upload"), wantErr: ErrInvalidParent},
		{name: "empty", ids: nil, drive: "drive-a", wantErr: ErrEmptySelection},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateMove(ix, tc.ids, tc.drive, tc.parent)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestPlanBulkMoveAppendsAndSkipsCoveredPages(t *testing.T) {
	ix := NewIndex(fixture())
	moves, err := PlanBulkMove(ix, MoveRequest{
		PageIDs: []string{"doc-1a", "doc-1", "notes"},
		DriveID: "drive-a",
		ParentID: ptr("folder"),
	})
	require.NoError(t, err)

	// doc-1a rides along with doc-1.
	require.Len(t, moves, 2)
	assert.Equal(t, "doc-1", moves[0].ID)
	assert.Equal(t, 3072.0, moves[0].Position)
	assert.Equal(t, "notes", moves[1].ID)
	assert.Equal(t, 4096.0, moves[1].Position)
	assert.Equal(t, "folder", *moves[1].ParentID)
}

func TestPlanBulkMoveAfterSibling(t *testing.T) {
	ix := NewIndex(fixture())
	moves, err := PlanBulkMove(ix, MoveRequest{
		PageIDs:  []string{"notes", "upload"},
		DriveID:  "drive-a",
		ParentID: ptr("folder"),
		AfterID:  ptr("doc-1"),
	})
	require.NoError(t, err)
	require.Len(t, moves, 2)

	assert.InDelta(t, 1024+1024.0/3, moves[0].Position, 1e-9)
	assert.InDelta(t, 1024+2*1024.0/3, moves[1].Position, 1e-9)
	assert.Less(t, moves[1].Position, 2048.0)
}

func TestPlanBulkMoveAcrossDrivesRehomesDescendants(t *testing.T) {
	ix := NewIndex(fixture())
	moves, err := PlanBulkMove(ix, MoveRequest{
		PageIDs:  []string{"folder"},
		DriveID:  "drive-b",
		ParentID: ptr("inbox"),
	})
	require.NoError(t, err)
	require.Len(t, moves, 4)

	byID := map[string]Move{}
	for _, m := range moves {
		assert.Equal(t, "drive-b", m.DriveID)
		byID[m.ID] = m
	}
	assert.Equal(t, "inbox", *byID["folder"].ParentID)
	assert.Equal(t, "doc-1", *byID["doc-1a"].ParentID)
	assert.Equal(t, 1024.0, byID["doc-1a"].Position)
}

func TestPlanBulkMoveRejectsCycle(t *testing.T) {
	ix := NewIndex(fixture())
	_, err := PlanBulkMove(ix, MoveRequest{
		PageIDs:  []string{"notes", "folder"},
		DriveID:  "drive-a",
		ParentID: ptr("doc-2"),
	})
	require.ErrorIs(t, err, ErrCycle)
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("new-%d", n)
	}
}

func TestPlanBulkCopyWithChildren(t *testing.T) {
	ix := NewIndex(fixture())
	copies, err := PlanBulkCopy(ix, CopyRequest{
		PageIDs:         []string{"folder"},
		DriveID:         "drive-a",
		IncludeChildren: true,
	}, sequentialIDs())
	require.NoError(t, err)
	require.Len(t, copies, 4)

	root := copies[0]
	assert.Equal(t, "folder", root.SourceID)
	assert.Equal(t, "Folder (Copy)", root.Node.Title)
	assert.Nil(t, root.Node.ParentID)
	assert.Equal(t, 4096.0, root.Node.Position)

	seen := map[string]bool{root.Node.ID: true}
	for _, c := range copies[1:] {
		require.NotNil(t, c.Node.ParentID)
		assert.True(t, seen[*c.Node.ParentID], "parent %s must precede child %s", *c.Node.ParentID, c.Node.ID)
		assert.NotEqual(t, c.SourceID, c.Node.ID)
		seen[c.Node.ID] = true
	}
}

func TestPlanBulkCopyIntoOtherDriveKeepsTitle(t *testing.T) {
	ix := NewIndex(fixture())
	copies, err := PlanBulkCopy(ix, CopyRequest{
		PageIDs:  []string{"doc-1"},
		DriveID:  "drive-b",
		ParentID: ptr("inbox"),
	}, sequentialIDs())
	require.NoError(t, err)
	require.Len(t, copies, 1)
	assert.Equal(t, "Doc 1", copies[0].Node.Title)
	assert.Equal(t, "drive-b", copies[0].Node.DriveID)
}

func TestPlanBulkCopyIntoOwnSubtree(t *testing.T) {
	ix := NewIndex(fixture())
	copies, err := PlanBulkCopy(ix, CopyRequest{
		PageIDs:         []string{"folder"},
		DriveID:         "drive-a",
		ParentID:        ptr("doc-1a"),
		IncludeChildren: true,
	}, sequentialIDs())
	require.NoError(t, err)
	assert.Len(t, copies, 4)
}

func TestPlanBulkCopyNestedSelectionWithoutChildren(t *testing.T) {
	ix := NewIndex(fixture())
	copies, err := PlanBulkCopy(ix, CopyRequest{
		PageIDs: []string{"folder", "doc-1a"},
		DriveID: "drive-b",
	}, sequentialIDs())
	require.NoError(t, err)
	require.Len(t, copies, 2)

	assert.Equal(t, "folder", copies[0].SourceID)
	assert.Nil(t, copies[0].Node.ParentID)
	assert.Equal(t, "doc-1a", copies[1].SourceID)
	require.NotNil(t, copies[1].Node.ParentID)
	assert.Equal(t, copies[0].Node.ID, *copies[1].Node.ParentID)
	assert.Equal(t, "drive-b", copies[1].Node.DriveID)
	assert.Equal(t, "Doc 1a", copies[1].Node.Title)
}

func TestPlanBulkMoveRenumbersWhenGapExhausted(t *testing.T) {
	nodes := []Node{
		{ID: "a", DriveID: "d", Position: 1024},
		{ID: "b", DriveID: "d", Position: math.Nextafter(1024, 2048)},
		{ID: "m", DriveID: "d", Position: 4096},
	}
	moves, err := PlanBulkMove(NewIndex(nodes), MoveRequest{
		PageIDs: []string{"m"},
		DriveID: "d",
		AfterID: ptr("a"),
	})
	require.NoError(t, err)

	got := map[string]float64{}
	for _, mv := range moves {
		got[mv.ID] = mv.Position
	}
	assert.Equal(t, map[string]float64{"a": 1024, "m": 2048, "b": 3072}, got)
	assert.Equal(t, "m", moves[0].ID)
}

func TestReorderMidpoint(t *testing.T) {
	ix := NewIndex(fixture())
	moves, err := Reorder(ix, "upload", ptr("folder"))
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, 1536.0, moves[0].Position)

	moves, err = Reorder(ix, "notes", nil)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, 512.0, moves[0].Position)
}

func TestReorderRenumbersWhenGapExhausted(t *testing.T) {
	nodes := []Node{
		{ID: "a", DriveID: "d", Position: 1},
		{ID: "b", DriveID: "d", Position: 1 + 1e-7},
		{ID: "c", DriveID: "d", Position: 5},
	}
	moves, err := Reorder(NewIndex(nodes), "c", ptr("a"))
	require.NoError(t, err)
	require.Len(t, moves, 3)
	assert.Equal(t, "a", moves[0].ID)
	assert.Equal(t, "c", moves[1].ID)
	assert.Equal(t, "b", moves[2].ID)
	assert.Equal(t, 2048.0, moves[1].Position)
}

func TestAppendPosition(t *testing.T) {
	ix := NewIndex(fixture())
	assert.Equal(t, 4096.0, AppendPosition(ix, "drive-a", nil))
	assert.Equal(t, 3072.0, AppendPosition(ix, "drive-a", ptr("folder")))
	assert.Equal(t, Spacing, AppendPosition(ix, "drive-a", ptr("doc-2")))
	assert.Equal(t, Spacing, AppendPosition(ix, "drive-c", nil))
}
