package hms

import (
	"errors"
	"testing"
)

func TestFromSeconds(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{0, "00:00:00"},
		{59, "00:00:59"},
		{60, "00:01:00"},
		{3661, "01:01:01"},
		{86399, "23:59:59"},
		{86400, "24:00:00"},
		{359999, "99:59:59"},
		{360000, "100:00:00"},
		{-5, "00:00:00"},
	}

	for _, tt := range tests {
		if got := FromSeconds(tt.seconds); got != tt.want {
			t.Errorf("FromSeconds(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestToSeconds(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"00:00:00", 0, false},
		{"01:01:01", 3661, false},
		{"100:00:00", 360000, false},
		{"1:2:3", 3723, false},
		{"", 0, true},
		{"01:01", 0, true},
		{"01:01:01:01", 0, true},
		{"aa:00:00", 0, true},
		{"00:-1:00", 0, true},
		{"00: 1:00", 0, true},
		{"00::00", 0, true},
		{"2562047788015203:00:00", 9223372036854730800, false},
		{"9223372036854775807:00:00", 0, true},
		{"2562047788015216:00:00", 0, true},
		{"00:9223372036854775807:00", 0, true},
		{"2562047788015215:30:07", 9223372036854775807, false},
		{"2562047788015215:30:08", 0, true},
		{"2562047788015215:59:59", 0, true},
		{"00:00:9223372036854775807", 9223372036854775807, false},
	}

	for _, tt := range tests {
		got, err := ToSeconds(tt.input)
		if tt.wantErr {
			if !errors.Is(err, ErrFormat) {
				t.Errorf("ToSeconds(%q) error = %v, want ErrFormat", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ToSeconds(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ToSeconds(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for s := int64(0); s <= 359999; s++ {
		got, err := ToSeconds(FromSeconds(s))
		if err != nil {
			t.Fatalf("round trip %d: %v", s, err)
		}
		if got != s {
			t.Fatalf("round trip %d: got %d", s, got)
		}
	}
}
