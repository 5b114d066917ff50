package pins

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	cst "wuyrush.io/plakat/constants"
	md "wuyrush.io/plakat/models"
	st "wuyrush.io/plakat/stores"
)

func init() {
	viper.SetDefault(cst.EnvRequireExpiry, true)
}

// Normalizer turns loosely typed pin records into validated pins.
type Normalizer struct {
	// RequireExpiry drops records without a parseable expiry date
	RequireExpiry bool
}

// Normalize normalizes raw with the expiry requirement read from PLAKAT_REQUIRE_EXPIRY
func Normalize(raw interface{}) []md.Pin {
	return Normalizer{RequireExpiry: viper.GetBool(cst.EnvRequireExpiry)}.Normalize(raw)
}

// Normalize accepts a list of records, maps or decoded JSON values, or JSON encoded bytes of such list,
// and returns the valid pins among them, newest first. Anything that isn't a list yields no pins.
func (n Normalizer) Normalize(raw interface{}) []md.Pin {
	var items []interface{}
	switch v := raw.(type) {
	case []byte:
		return n.NormalizeJSON(v)
	case json.RawMessage:
		return n.NormalizeJSON(v)
	case []interface{}:
		items = v
	case []map[string]interface{}:
		for _, m := range v {
			items = append(items, m)
		}
	case []st.Record:
		for _, r := range v {
			items = append(items, r)
		}
	default:
		return []md.Pin{}
	}
	ps := make([]md.Pin, 0, len(items))
	for _, it := range items {
		if p, ok := n.Pin(it); ok {
			ps = append(ps, p)
		}
	}
	SortNewestFirst(ps)
	return ps
}

// NormalizeJSON is Normalize for a JSON encoded list
func (n Normalizer) NormalizeJSON(b []byte) []md.Pin {
	var items []interface{}
	if err := json.Unmarshal(b, &items); err != nil {
		return []md.Pin{}
	}
	return n.Normalize(items)
}

// Pin validates a single record. It reports false for records missing an id or title, with non-finite
// coordinates or an unparseable creation time, and, when expiry is required, without a parseable expiry.
func (n Normalizer) Pin(raw interface{}) (md.Pin, bool) {
	var m map[string]interface{}
	switch v := raw.(type) {
	case map[string]interface{}:
		m = v
	case st.Record:
		m = v
	default:
		return md.Pin{}, false
	}
	id, _ := m["id"].(string)
	title, _ := m["title"].(string)
	if id == "" || title == "" {
		return md.Pin{}, false
	}
	lat, ok := number(m["latitude"])
	if !ok {
		return md.Pin{}, false
	}
	lng, ok := number(m["longitude"])
	if !ok {
		return md.Pin{}, false
	}
	createdAt, ok := md.ParseDate(either(m, "createdAt", "created_at"))
	if !ok {
		return md.Pin{}, false
	}
	expiresAt := either(m, "expiresAt", "expires_at")
	if _, ok := md.ParseDate(expiresAt); !ok {
		if n.RequireExpiry {
			return md.Pin{}, false
		}
		expiresAt = ""
	}
	p := md.Pin{
		ID:        id,
		Title:     title,
		Latitude:  lat,
		Longitude: lng,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}
	switch d := m["description"].(type) {
	case string:
		p.Description = &d
	case *string:
		if d != nil {
			desc := *d
			p.Description = &desc
		}
	}
	return p, true
}

// SortNewestFirst sorts ps by creation time descending, keeping the order of equal times
func SortNewestFirst(ps []md.Pin) {
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].CreatedAt.After(ps[j].CreatedAt)
	})
}

// either returns the string under the camelCase key, falling back to the snake_case one
func either(m map[string]interface{}, camel, snake string) string {
	if s, ok := m[camel].(string); ok {
		return s
	}
	s, _ := m[snake].(string)
	return s
}

// Coordinate reads a latitude or longitude the way stored records are read: JSON numbers and numeric
// strings are accepted, anything else, including an absent value, is not.
func Coordinate(v interface{}) (float64, bool) {
	return number(v)
}

// number reads a finite float from a JSON number, a Go numeric value or a numeric string
func number(v interface{}) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		var err error
		if f, err = x.Float64(); err != nil {
			return 0, false
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(x), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
