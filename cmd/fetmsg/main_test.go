package main

import (
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	cases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short stays", "hello", 60, "hello"},
		{"exact stays", "abcdef", 6, "abcdef"},
		{"long ascii cut", "abcdefghij", 8, "abcde..."},
		{"multibyte cut on rune boundary", "héllo wörld héllo wörld", 10, "héllo w..."},
		{"emoji cut on rune boundary", "👀👀👀👀👀👀", 5, "👀👀..."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := truncate(tc.in, tc.max)
			if got != tc.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%q, %d) produced invalid UTF-8", tc.in, tc.max)
			}
		})
	}
}
