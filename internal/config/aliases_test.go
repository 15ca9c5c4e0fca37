package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testAliases() *Aliases {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	return NewAliases(Default().Dirs, map[string]string{"talks": "/books/talks/", "zines": "zines"}, now)
}

func TestAliases_Entries(t *testing.T) {
	assert.Equal(t, []Alias{
		{"books", "/books"},
		{"papers", "/books/papers"},
		{"archive", "/books/archive"},
		{"latest", "/books/papers/2024-03"},
		{"talks", "/books/talks"},
		{"zines", "/zines"},
	}, testAliases().Entries())
}

func TestAliases_Expand(t *testing.T) {
	a := testAliases()
	tests := []struct {
		in, want string
	}{
		{"{papers}", "/books/papers"},
		{"{latest}/a.pdf", "/books/papers/2024-03/a.pdf"},
		{"{books}/{unknown}", "/books/{unknown}"},
		{"/plain/path", "/plain/path"},
		{"{ papers }", "{ papers }"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Expand(tt.in))
		})
	}
}

func TestAliases_Lookup(t *testing.T) {
	a := testAliases()
	p, ok := a.Lookup("archive")
	assert.True(t, ok)
	assert.Equal(t, "/books/archive", p)

	_, ok = a.Lookup("nope")
	assert.False(t, ok)
}

func TestMonthFolder(t *testing.T) {
	assert.Equal(t, "/p/2025-12", MonthFolder("/p/", time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)))
}
