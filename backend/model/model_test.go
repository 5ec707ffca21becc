package model

import (
	"errors"
	"testing"
)

func TestNormalizeRoomID(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
	}{
		{"abc123", "ABC123"},
		{"ABC123", "ABC123"},
		{"r1", "R1"},
		{"A", "A"},
		{"0123456789", "0123456789"},
	} {
		got, err := NormalizeRoomID(tc.in)
		if err != nil {
			t.Errorf("NormalizeRoomID(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeRoomID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeRoomIDRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"ELEVENCHARS",
		"room-1",
		"room 1",
		"ro.om",
		"日本",
	} {
		if _, err := NormalizeRoomID(in); !errors.Is(err, ErrInvalidRoomID) {
			t.Errorf("NormalizeRoomID(%q): err = %v, want ErrInvalidRoomID", in, err)
		}
	}
}
