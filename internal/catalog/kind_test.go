// internal/catalog/kind_test.go
package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"book":       KindBook,
		"BOOK":       KindBook,
		" dvd ":      KindDVD,
		"Laptop":     KindLaptop,
		"video game": KindVideoGame,
		"video_game": KindVideoGame,
		"videogame":  KindVideoGame,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseKind("vinyl")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestBorrowWeight(t *testing.T) {
	assert.Equal(t, 3, KindLaptop.BorrowWeight())
	assert.Equal(t, 1, KindBook.BorrowWeight())
	assert.Equal(t, 1, KindDVD.BorrowWeight())
	assert.Equal(t, 1, KindVideoGame.BorrowWeight())
}

func TestFinePolicy(t *testing.T) {
	p := KindLaptop.FinePolicy()
	assert.Equal(t, "10", p.DailyRate.String())
	assert.Equal(t, "100", p.MaxFine.String())

	p = KindBook.FinePolicy()
	assert.Equal(t, "2", p.DailyRate.String())
	assert.Equal(t, "25", p.MaxFine.String())
}

func TestEntryEdit(t *testing.T) {
	e := Entry{Title: "Old", Year: "1999", Attributes: map[string]string{AttrAuthor: "A", AttrGenre: "drama"}}

	e.Edit("New", "", map[string]string{AttrAuthor: "B", AttrGenre: ""})

	assert.Equal(t, "New", e.Title)
	assert.Equal(t, "1999", e.Year)
	assert.Equal(t, "B", e.Attr(AttrAuthor))
	_, ok := e.Attributes[AttrGenre]
	assert.False(t, ok)
}

func TestEntryCloneIsDeep(t *testing.T) {
	e := Entry{Attributes: map[string]string{AttrISBN: "1"}}
	c := e.Clone()
	c.Attributes[AttrISBN] = "2"
	assert.Equal(t, "1", e.Attr(AttrISBN))
}
