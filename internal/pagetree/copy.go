package pagetree

// CopySuffix is appended to the title of a top-level copy that lands next
// to its source.
const CopySuffix = " (Copy)"

// CopyRequest describes a bulk copy into DriveID under ParentID.
type CopyRequest struct {
	PageIDs         []string
	DriveID         string
	ParentID        *string
	IncludeChildren bool
}

// Copy pairs a new node with the page it was copied from, so callers can
// duplicate content and attachments.
type Copy struct {
	SourceID string
	Node     Node
}

// PlanBulkCopy deep-copies the selection with fresh IDs from newID. Parent
// links inside the copied subtrees point at the new IDs. Without
// IncludeChildren only the selected pages are copied, and a selected page
// nested under another selected page is placed under that page's copy. The
// result lists parents before their children. Copying a page into its own
// subtree is allowed: the subtree is snapshotted before any new node is
// placed.
func PlanBulkCopy(ix *Index, req CopyRequest, newID func() string) ([]Copy, error) {
	if err := ix.checkTarget(req.DriveID, req.ParentID); err != nil {
		return nil, err
	}
	roots, err := ix.selectionRoots(req.PageIDs)
	if err != nil {
		return nil, err
	}
	selected := make(map[string]bool, len(req.PageIDs))
	for _, id := range req.PageIDs {
		selected[id] = true
	}

	positions, _, err := slotPositions(ix.Children(req.DriveID, req.ParentID), nil, len(roots))
	if err != nil {
		return nil, err
	}

	type subtree struct {
		root        Node
		descendants []string
	}
	snapshots := make([]subtree, 0, len(roots))
	for _, r := range roots {
		st := subtree{root: r}
		for _, id := range ix.Descendants(r.ID) {
			if req.IncludeChildren || selected[id] {
				st.descendants = append(st.descendants, id)
			}
		}
		snapshots = append(snapshots, st)
	}

	out := make([]Copy, 0)
	for i, st := range snapshots {
		remap := make(map[string]string, len(st.descendants)+1)
		rootID := newID()
		remap[st.root.ID] = rootID

		title := st.root.Title
		if st.root.DriveID == req.DriveID && samePtr(st.root.ParentID, req.ParentID) {
			title += CopySuffix
		}
		out = append(out, Copy{
			SourceID: st.root.ID,
			Node: Node{
				ID:       rootID,
				DriveID:  req.DriveID,
				ParentID: copyPtr(req.ParentID),
				Position: positions[i],
				Type:     st.root.Type,
				Title:    title,
			},
		})

		for _, id := range st.descendants {
			src := ix.byID[id]
			newParent, ok := nearestCopied(ix, remap, src)
			if !ok {
				continue
			}
			copied := newID()
			remap[src.ID] = copied
			out = append(out, Copy{
				SourceID: src.ID,
				Node: Node{
					ID:       copied,
					DriveID:  req.DriveID,
					ParentID: &newParent,
					Position: src.Position,
					Type:     src.Type,
					Title:    src.Title,
				},
			})
		}
	}
	return out, nil
}

// nearestCopied returns the new ID of the closest ancestor of n that has
// already been copied.
func nearestCopied(ix *Index, remap map[string]string, n Node) (string, bool) {
	seen := make(map[string]bool)
	for n.ParentID != nil && !seen[*n.ParentID] {
		if id, ok := remap[*n.ParentID]; ok {
			return id, true
		}
		seen[*n.ParentID] = true
		parent, ok := ix.byID[*n.ParentID]
		if !ok {
			return "", false
		}
		n = parent
	}
	return "", false
}
