package mirror

import (
	md "wuyrush.io/plakat/models"
	"wuyrush.io/plakat/pins"
	st "wuyrush.io/plakat/stores"
)

// Reconcile applies change c to ps and returns the resulting collection along with whether it differs
// from ps. ps is not modified.
//
// A delete drops the pin carrying the id of the old row and is ignored when the old row has no id. An
// insert or update whose new row doesn't normalize is ignored; otherwise it replaces the pin with the same
// id and the collection is re-sorted newest first, which makes applying the same change twice or changes
// out of order converge to the same collection.
func Reconcile(ps []md.Pin, c st.Change, n pins.Normalizer) ([]md.Pin, bool) {
	switch c.Type {
	case st.ChangeDelete:
		id := c.Old.ID()
		if id == "" {
			return ps, false
		}
		return without(ps, id)
	case st.ChangeInsert, st.ChangeUpdate:
		p, ok := n.Pin(c.New)
		if !ok {
			return ps, false
		}
		return upsert(ps, p)
	default:
		return ps, false
	}
}

func without(ps []md.Pin, id string) ([]md.Pin, bool) {
	out := make([]md.Pin, 0, len(ps))
	for _, p := range ps {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out, len(out) != len(ps)
}

func upsert(ps []md.Pin, p md.Pin) ([]md.Pin, bool) {
	out := make([]md.Pin, 1, len(ps)+1)
	out[0] = p
	for _, q := range ps {
		if q.ID == p.ID {
			if samePin(q, p) {
				return ps, false
			}
			continue
		}
		out = append(out, q)
	}
	// p leads among pins created at the same instant
	pins.SortNewestFirst(out)
	return out, true
}

// distinct keeps the first pin of every id
func distinct(ps []md.Pin) []md.Pin {
	seen := make(map[string]struct{}, len(ps))
	out := make([]md.Pin, 0, len(ps))
	for _, p := range ps {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

func samePin(a, b md.Pin) bool {
	if (a.Description == nil) != (b.Description == nil) {
		return false
	}
	if a.Description != nil && *a.Description != *b.Description {
		return false
	}
	return a.ID == b.ID &&
		a.Title == b.Title &&
		a.Latitude == b.Latitude &&
		a.Longitude == b.Longitude &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.ExpiresAt == b.ExpiresAt
}
