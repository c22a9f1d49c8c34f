package store

import (
	"reflect"
	"testing"
)

func TestMoveLockKeysAreSortedAndUnique(t *testing.T) {
	moves := []PageMove{
		{ID: "p1", DriveID: "d2"},
		{ID: "p2", DriveID: "d1"},
		{ID: "p3", DriveID: "d2"},
	}
	got := moveLockKeys(moves, []string{"d3", "d1", ""})
	want := []string{"pages:drive:d1", "pages:drive:d2", "pages:drive:d3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("moveLockKeys() = %v, want %v", got, want)
	}
}
