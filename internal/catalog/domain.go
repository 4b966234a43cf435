// internal/catalog/domain.go
package catalog

import (
	"maps"
	"strings"
	"time"
)

// Attribute keys carried in an entry's attribute bag. Which keys are
// meaningful depends on the entry's kind.
const (
	AttrAuthor       = "author"
	AttrPublisher    = "publisher"
	AttrGenre        = "genre"
	AttrISBN         = "isbn"
	AttrLanguage     = "language"
	AttrDirector     = "director"
	AttrRuntime      = "runtime"
	AttrManufacturer = "manufacturer"
	AttrModel        = "model"
	AttrOS           = "os"
	AttrRating       = "certificate_rating"
	AttrMultiplayer  = "multiplayer"
)

// Entry is the descriptive half of a resource: what the library owns, not
// what state its copies are in.
type Entry struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Title      string            `json:"title"`
	Year       string            `json:"year"`
	Thumbnail  string            `json:"thumbnail,omitempty"`
	DateAdded  time.Time         `json:"date_added"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Attr returns the attribute stored under key, or "" when absent.
func (e Entry) Attr(key string) string {
	return e.Attributes[key]
}

// Edit replaces the editable descriptive fields. Empty title or year leave
// the current value in place; attrs are merged, and an empty value deletes
// the key.
func (e *Entry) Edit(title, year string, attrs map[string]string) {
	if t := strings.TrimSpace(title); t != "" {
		e.Title = t
	}
	if y := strings.TrimSpace(year); y != "" {
		e.Year = y
	}
	if len(attrs) == 0 {
		return
	}
	if e.Attributes == nil {
		e.Attributes = make(map[string]string, len(attrs))
	}
	for k, v := range attrs {
		if v == "" {
			delete(e.Attributes, k)
			continue
		}
		e.Attributes[k] = v
	}
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	out := e
	out.Attributes = maps.Clone(e.Attributes)
	return out
}
