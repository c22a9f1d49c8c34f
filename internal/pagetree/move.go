package pagetree

// Move is one row update produced by a plan.
type Move struct {
	ID       string
	DriveID  string
	ParentID *string
	Position float64
}

// MoveRequest describes a bulk move. AfterID, when set, must be a child of
// ParentID; the moved pages are placed directly after it. Otherwise they
// are appended to the end of ParentID.
type MoveRequest struct {
	PageIDs  []string
	DriveID  string
	ParentID *string
	AfterID  *string
}

// ValidateMove checks that every page exists and that none would end up
// under itself or one of its descendants.
func ValidateMove(ix *Index, pageIDs []string, driveID string, parentID *string) error {
	if len(pageIDs) == 0 {
		return ErrEmptySelection
	}
	if err := ix.checkTarget(driveID, parentID); err != nil {
		return err
	}
	for _, id := range pageIDs {
		if _, ok := ix.byID[id]; !ok {
			return ErrNotFound
		}
		if parentID == nil {
			continue
		}
		if *parentID == id || ix.IsAncestor(id, *parentID) {
			return ErrCycle
		}
	}
	return nil
}

// PlanBulkMove returns the row updates for moving the selection. Pages
// already covered by a selected ancestor ride along with it. When the
// target drive differs, every descendant is re-homed to the new drive
// with its parent and position untouched.
func PlanBulkMove(ix *Index, req MoveRequest) ([]Move, error) {
	if err := ValidateMove(ix, req.PageIDs, req.DriveID, req.ParentID); err != nil {
		return nil, err
	}
	roots, err := ix.selectionRoots(req.PageIDs)
	if err != nil {
		return nil, err
	}

	moving := make(map[string]bool, len(roots))
	for _, r := range roots {
		moving[r.ID] = true
	}
	siblings := make([]Node, 0)
	for _, n := range ix.Children(req.DriveID, req.ParentID) {
		if !moving[n.ID] {
			siblings = append(siblings, n)
		}
	}

	positions, renumbered, err := slotPositions(siblings, req.AfterID, len(roots))
	if err != nil {
		return nil, err
	}

	moves := make([]Move, 0, len(roots))
	for i, r := range roots {
		moves = append(moves, Move{
			ID:       r.ID,
			DriveID:  req.DriveID,
			ParentID: copyPtr(req.ParentID),
			Position: positions[i],
		})
		if r.DriveID == req.DriveID {
			continue
		}
		for _, id := range ix.Descendants(r.ID) {
			d := ix.byID[id]
			moves = append(moves, Move{
				ID:       d.ID,
				DriveID:  req.DriveID,
				ParentID: copyPtr(d.ParentID),
				Position: d.Position,
			})
		}
	}
	return append(moves, renumbered...), nil
}

// slotPositions returns count increasing positions that fit after afterID
// among siblings (or at the end when afterID is nil). When the gap after
// afterID is too small to split, the siblings are renumbered around the new
// slots and their updates are returned alongside.
func slotPositions(siblings []Node, afterID *string, count int) ([]float64, []Move, error) {
	out := make([]float64, count)
	if afterID == nil {
		last := 0.0
		if len(siblings) > 0 {
			last = siblings[len(siblings)-1].Position
		}
		for i := range out {
			out[i] = last + Spacing*float64(i+1)
		}
		return out, nil, nil
	}

	idx := -1
	for i, s := range siblings {
		if s.ID == *afterID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil, ErrNotFound
	}
	lo := siblings[idx].Position
	if idx+1 >= len(siblings) {
		for i := range out {
			out[i] = lo + Spacing*float64(i+1)
		}
		return out, nil, nil
	}
	hi := siblings[idx+1].Position
	step := (hi - lo) / float64(count+1)
	if step >= minGap {
		for i := range out {
			out[i] = lo + step*float64(i+1)
		}
		return out, nil, nil
	}

	renumbered := make([]Move, 0, len(siblings))
	slot := 1
	for i, s := range siblings {
		if i == idx+1 {
			for j := range out {
				out[j] = Spacing * float64(slot)
				slot++
			}
		}
		renumbered = append(renumbered, Move{
			ID:       s.ID,
			DriveID:  s.DriveID,
			ParentID: copyPtr(s.ParentID),
			Position: Spacing * float64(slot),
		})
		slot++
	}
	return out, renumbered, nil
}
