package storage

import "testing"

func TestFindOptionsNormalizeDefaults(t *testing.T) {
	limit, orderBy, direction, err := FindOptions{}.normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limit != defaultFindLimit {
		t.Errorf("limit = %d, want %d", limit, defaultFindLimit)
	}
	if orderBy != OrderByCreatedAt {
		t.Errorf("orderBy = %q, want %q", orderBy, OrderByCreatedAt)
	}
	if direction != Asc {
		t.Errorf("direction = %q, want %q", direction, Asc)
	}
}

func TestFindOptionsNormalizeNonPositiveLimit(t *testing.T) {
	for _, limit := range []int{0, -1, -100} {
		got, _, _, err := FindOptions{Limit: limit}.normalize()
		if err != nil {
			t.Fatalf("unexpected error for limit %d: %v", limit, err)
		}
		if got != defaultFindLimit {
			t.Errorf("limit %d normalized to %d, want %d", limit, got, defaultFindLimit)
		}
	}
}

func TestFindOptionsNormalizePassesThroughValidValues(t *testing.T) {
	limit, orderBy, direction, err := FindOptions{
		Limit:     25,
		OrderBy:   OrderByPriority,
		Direction: Desc,
	}.normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limit != 25 || orderBy != OrderByPriority || direction != Desc {
		t.Errorf("got (%d, %q, %q), want (25, priority, DESC)", limit, orderBy, direction)
	}
}

func TestFindOptionsNormalizeRejectsInvalidOrderBy(t *testing.T) {
	_, _, _, err := FindOptions{OrderBy: OrderBy("id")}.normalize()
	if err == nil {
		t.Fatal("expected error for invalid order_by")
	}
}

func TestFindOptionsNormalizeRejectsInvalidDirection(t *testing.T) {
	_, _, _, err := FindOptions{Direction: Direction("SIDEWAYS")}.normalize()
	if err == nil {
		t.Fatal("expected error for invalid direction")
	}
}
