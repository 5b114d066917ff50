package stores

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCouchGateway_ChangeFromFeed(t *testing.T) {
	tcs := []struct {
		name     string
		id       string
		deleted  bool
		doc      map[string]interface{}
		expected Change
	}{
		{
			name:     "Deleted",
			id:       "abc",
			deleted:  true,
			expected: Change{Type: ChangeDelete, Old: Record{"id": "abc"}},
		},
		{
			name: "FirstRevisionIsInsert",
			id:   "abc",
			doc:  map[string]interface{}{"_id": "abc", "_rev": "1-x", "title": "A", "latitude": 1.0},
			expected: Change{Type: ChangeInsert, New: Record{
				"id": "abc", "title": "A", "latitude": 1.0, "description": nil,
			}},
		},
		{
			name: "LaterRevisionIsUpdate",
			id:   "abc",
			doc:  map[string]interface{}{"_id": "abc", "_rev": "3-y", "title": "A", "description": "B"},
			expected: Change{Type: ChangeUpdate, New: Record{
				"id": "abc", "title": "A", "description": "B",
			}},
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expected, changeFromFeed(c.id, c.deleted, c.doc))
		})
	}
}

func TestCouchGateway_DocRoundTrip(t *testing.T) {
	r := Record{"id": "abc", "title": "A", "description": nil, "created_at": "2025-11-01T08:00:00Z"}
	doc := recordToDoc(r)
	assert.Equal(t, "abc", doc["_id"])
	_, hasID := doc["id"]
	assert.False(t, hasID)

	doc["_rev"] = "1-x"
	assert.Equal(t, r, docToRecord(doc))
}
