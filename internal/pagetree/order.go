package pagetree

// Reorder places id directly after afterID among its current siblings, or
// first when afterID is nil. It normally returns a single move; when the
// gap between neighbours is exhausted every sibling is renumbered.
func Reorder(ix *Index, id string, afterID *string) ([]Move, error) {
	node, ok := ix.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if afterID != nil && *afterID == id {
		return nil, nil
	}
	parentID := node.ParentID
	if parentID != nil {
		if _, ok := ix.byID[*parentID]; !ok {
			parentID = nil
		}
	}

	siblings := make([]Node, 0)
	for _, s := range ix.Children(node.DriveID, parentID) {
		if s.ID != id {
			siblings = append(siblings, s)
		}
	}

	insertAt := 0
	if afterID != nil {
		insertAt = -1
		for i, s := range siblings {
			if s.ID == *afterID {
				insertAt = i + 1
				break
			}
		}
		if insertAt < 0 {
			return nil, ErrNotFound
		}
	}

	lo := 0.0
	if insertAt > 0 {
		lo = siblings[insertAt-1].Position
	}
	hi := lo + 2*Spacing
	if insertAt < len(siblings) {
		hi = siblings[insertAt].Position
	}

	if hi-lo >= minGap {
		return []Move{{
			ID:       id,
			DriveID:  node.DriveID,
			ParentID: copyPtr(node.ParentID),
			Position: lo + (hi-lo)/2,
		}}, nil
	}

	ordered := make([]Node, 0, len(siblings)+1)
	ordered = append(ordered, siblings[:insertAt]...)
	ordered = append(ordered, node)
	ordered = append(ordered, siblings[insertAt:]...)

	moves := make([]Move, 0, len(ordered))
	for i, n := range ordered {
		moves = append(moves, Move{
			ID:       n.ID,
			DriveID:  n.DriveID,
			ParentID: copyPtr(n.ParentID),
			Position: Spacing * float64(i+1),
		})
	}
	return moves, nil
}

// AppendPosition is the position for a new last child of parentID.
func AppendPosition(ix *Index, driveID string, parentID *string) float64 {
	children := ix.Children(driveID, parentID)
	if len(children) == 0 {
		return Spacing
	}
	return children[len(children)-1].Position + Spacing
}
