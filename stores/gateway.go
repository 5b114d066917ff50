package stores

import (
	"context"
	"sort"
	"time"

	pe "wuyrush.io/plakat/errors"
)

// Record is the wire representation of one row of the pins table: snake_case keys, nullable description,
// string timestamps. Records are handed to the pins adapter as-is and validated there.
type Record map[string]interface{}

// ID returns the id of the record, or "" if it has none
func (r Record) ID() string {
	if r == nil {
		return ""
	}
	id, _ := r["id"].(string)
	return id
}

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change is a notification about one row of the pins table. New is set for inserts and updates, Old is
// set for deletes and, where the backend can provide it, for updates.
type Change struct {
	Type ChangeType `json:"type"`
	New  Record     `json:"new,omitempty"`
	Old  Record     `json:"old,omitempty"`
}

// Gateway vends the table operations plakat consumes from its persistence backend.
type Gateway interface {
	// List returns all rows, newest created_at first
	List(ctx context.Context) ([]Record, *pe.PinErr)
	// Insert stores the row and returns it as stored. The gateway assigns id and created_at
	Insert(ctx context.Context, r Record) (Record, *pe.PinErr)
	// Delete removes the row with given id if any. It reports whether a row matched
	Delete(ctx context.Context, id string) (bool, *pe.PinErr)
	// Subscribe streams all subsequent changes of the table until ctx is done or the subscription is closed
	Subscribe(ctx context.Context) (Subscription, *pe.PinErr)
	Close() *pe.PinErr
}

// Subscription is a live stream of table changes. The channel returned by Changes is closed once the
// subscription ends.
type Subscription interface {
	Changes() <-chan Change
	Close() *pe.PinErr
}

// fields a caller may set on insert; everything else is assigned by the gateway
var insertableFields = []string{"title", "description", "latitude", "longitude", "expires_at"}

// stamp copies the insertable fields of r into a new row with given id and creation time
func stamp(r Record, id string, createdAt time.Time) Record {
	row := Record{
		"id":         id,
		"created_at": createdAt.UTC().Format(time.RFC3339Nano),
	}
	for _, f := range insertableFields {
		if v, ok := r[f]; ok {
			row[f] = v
		}
	}
	if _, ok := row["description"]; !ok {
		row["description"] = nil
	}
	return row
}

// copy returns a shallow copy of r so that callers can't mutate gateway state
func (r Record) copy() Record {
	if r == nil {
		return nil
	}
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// sortByCreatedAtDesc orders rows newest first. Rows whose created_at doesn't parse sink to the end.
func sortByCreatedAtDesc(rs []Record) {
	at := make(map[string]time.Time, len(rs))
	for _, r := range rs {
		s, _ := r["created_at"].(string)
		t, _ := time.Parse(time.RFC3339Nano, s)
		at[r.ID()] = t
	}
	sort.SliceStable(rs, func(i, j int) bool {
		return at[rs[i].ID()].After(at[rs[j].ID()])
	})
}
