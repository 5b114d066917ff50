package mirror

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	md "wuyrush.io/plakat/models"
	"wuyrush.io/plakat/pins"
	st "wuyrush.io/plakat/stores"
)

var testNormalizer = pins.Normalizer{RequireExpiry: true}

func row(id, title, createdAt string) st.Record {
	return st.Record{
		"id":          id,
		"title":       title,
		"description": nil,
		"latitude":    48.4,
		"longitude":   10.0,
		"created_at":  createdAt,
		"expires_at":  "2025-12-01",
	}
}

func ids(ps []md.Pin) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func apply(ps []md.Pin, cs ...st.Change) []md.Pin {
	for _, c := range cs {
		ps, _ = Reconcile(ps, c, testNormalizer)
	}
	return ps
}

func TestReconcile(t *testing.T) {
	a := st.Change{Type: st.ChangeInsert, New: row("a", "A", "2025-11-01T10:00:00Z")}
	b := st.Change{Type: st.ChangeInsert, New: row("b", "B", "2025-11-02T10:00:00Z")}
	c := st.Change{Type: st.ChangeInsert, New: row("c", "C", "2025-11-03T10:00:00Z")}
	tcs := []struct {
		name     string
		changes  []st.Change
		expected []string
	}{
		{
			name:     "InsertsSortedNewestFirst",
			changes:  []st.Change{a, c, b},
			expected: []string{"c", "b", "a"},
		},
		{
			name: "UpdateLeadsPinsOfTheSameInstant",
			changes: []st.Change{
				{Type: st.ChangeInsert, New: row("x", "X", "2025-11-05T10:00:00Z")},
				{Type: st.ChangeInsert, New: row("y", "Y", "2025-11-05T10:00:00Z")},
				{Type: st.ChangeUpdate, New: row("y", "Y2", "2025-11-05T10:00:00Z")},
				{Type: st.ChangeUpdate, New: row("x", "X2", "2025-11-05T10:00:00Z")},
			},
			expected: []string{"x", "y"},
		},
		{
			name:     "DuplicateInsertIsIdempotent",
			changes:  []st.Change{a, b, a, a},
			expected: []string{"b", "a"},
		},
		{
			name:     "DeleteUnknownIDIsNoop",
			changes:  []st.Change{a, {Type: st.ChangeDelete, Old: st.Record{"id": "zzz"}}},
			expected: []string{"a"},
		},
		{
			name:     "DeleteWithoutIDIsIgnored",
			changes:  []st.Change{a, {Type: st.ChangeDelete, Old: st.Record{}}, {Type: st.ChangeDelete}},
			expected: []string{"a"},
		},
		{
			name:     "DeleteBeforeInsert",
			changes:  []st.Change{{Type: st.ChangeDelete, Old: st.Record{"id": "a"}}, a},
			expected: []string{"a"},
		},
		{
			name:     "Delete",
			changes:  []st.Change{a, b, {Type: st.ChangeDelete, Old: st.Record{"id": "a"}}},
			expected: []string{"b"},
		},
		{
			name:     "InvalidRowIgnored",
			changes:  []st.Change{a, {Type: st.ChangeInsert, New: row("x", "", "2025-11-05T10:00:00Z")}},
			expected: []string{"a"},
		},
		{
			name:     "UnknownTypeIgnored",
			changes:  []st.Change{a, {Type: "TRUNCATE"}},
			expected: []string{"a"},
		},
		{
			name: "UpdateReplacesAndResorts",
			changes: []st.Change{a, b,
				{Type: st.ChangeUpdate, New: row("a", "A2", "2025-11-09T10:00:00Z")}},
			expected: []string{"a", "b"},
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expected, ids(apply([]md.Pin{}, c.changes...)))
		})
	}
}

func TestReconcile_OutOfOrderConverges(t *testing.T) {
	cs := []st.Change{
		{Type: st.ChangeInsert, New: row("a", "A", "2025-11-01T10:00:00Z")},
		{Type: st.ChangeInsert, New: row("b", "B", "2025-11-02T10:00:00Z")},
		{Type: st.ChangeInsert, New: row("c", "C", "2025-11-03T10:00:00Z")},
	}
	forward := apply([]md.Pin{}, cs[0], cs[1], cs[2])
	backward := apply([]md.Pin{}, cs[2], cs[1], cs[0])
	assert.Equal(t, forward, backward)
}

func TestReconcile_ReportsEffectiveChanges(t *testing.T) {
	a := st.Change{Type: st.ChangeInsert, New: row("a", "A", "2025-11-01T10:00:00Z")}
	ps, changed := Reconcile([]md.Pin{}, a, testNormalizer)
	assert.True(t, changed)
	again, changed := Reconcile(ps, a, testNormalizer)
	assert.False(t, changed, "re-applying the same insert changes nothing")
	assert.Equal(t, ps, again)

	_, changed = Reconcile(ps, st.Change{Type: st.ChangeDelete, Old: st.Record{"id": "zzz"}}, testNormalizer)
	assert.False(t, changed)

	out, changed := Reconcile(ps, st.Change{Type: st.ChangeDelete, Old: st.Record{"id": "a"}}, testNormalizer)
	assert.True(t, changed)
	assert.Empty(t, out)
	assert.Len(t, ps, 1, "input collection must not be modified")
}

func TestSamePin(t *testing.T) {
	at := time.Date(2025, time.November, 1, 10, 0, 0, 0, time.UTC)
	d1, d2 := "x", "x"
	a := md.Pin{ID: "a", Title: "A", Description: &d1, CreatedAt: at}
	b := md.Pin{ID: "a", Title: "A", Description: &d2, CreatedAt: at.In(time.Local)}
	assert.True(t, samePin(a, b))
	b.Description = nil
	assert.False(t, samePin(a, b))
}
