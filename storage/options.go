package storage

import "fmt"

// OrderBy is the closed set of columns FindByStatus may sort on. Caller
// input is validated against this allow-list before any SQL is composed
// (spec §9 "Validating dynamic sort inputs") — it is never interpolated
// directly.
type OrderBy string

const (
	OrderByCreatedAt OrderBy = "created_at"
	OrderByPriority  OrderBy = "priority"
)

func (o OrderBy) valid() bool {
	return o == OrderByCreatedAt || o == OrderByPriority
}

// Direction is the closed set of sort directions FindByStatus accepts.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

func (d Direction) valid() bool {
	return d == Asc || d == Desc
}

// FindOptions parameterizes FindByStatus.
type FindOptions struct {
	// Limit caps the number of rows returned. Zero or negative selects
	// the default of 100.
	Limit int

	// OrderBy selects the sort column. The zero value defaults to
	// OrderByCreatedAt.
	OrderBy OrderBy

	// Direction selects the sort order. The zero value defaults to Asc.
	Direction Direction
}

const defaultFindLimit = 100

func (o FindOptions) normalize() (int, OrderBy, Direction, error) {
	limit := o.Limit
	if limit <= 0 {
		limit = defaultFindLimit
	}
	orderBy := o.OrderBy
	if orderBy == "" {
		orderBy = OrderByCreatedAt
	}
	direction := o.Direction
	if direction == "" {
		direction = Asc
	}
	if !orderBy.valid() {
		return 0, "", "", fmt.Errorf("storage: invalid order_by %q", orderBy)
	}
	if !direction.valid() {
		return 0, "", "", fmt.Errorf("storage: invalid direction %q", direction)
	}
	return limit, orderBy, direction, nil
}

// Stats reports per-status counts and the age of the oldest row in
// milliseconds.
type Stats struct {
	Pending     int64
	Processing  int64
	Completed   int64
	Failed      int64
	DeadLetter  int64
	OldestAgeMs int64
}
