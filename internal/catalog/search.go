// internal/catalog/search.go
package catalog

import (
	"sort"
	"strings"
)

// Query selects entries whose text contains Text, case-insensitively.
// An empty Kinds matches every kind. Limit caps the result; zero means no cap.
type Query struct {
	Text  string
	Kinds []Kind
	Limit int
}

// Text renders the searchable fields of an entry as one lower-case string.
func (e Entry) Text() string {
	parts := []string{e.ID, e.Title, e.Year, string(e.Kind)}
	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, e.Attributes[k])
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// Matches reports whether e satisfies q.
func (q Query) Matches(e Entry) bool {
	if len(q.Kinds) > 0 {
		found := false
		for _, k := range q.Kinds {
			if k == e.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	return needle == "" || strings.Contains(e.Text(), needle)
}

// Search filters entries by q, keeping their order.
func Search(entries []Entry, q Query) []Entry {
	out := make([]Entry, 0)
	for _, e := range entries {
		if !q.Matches(e) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}
