package track

import (
	"errors"
	"testing"
	"time"
)

func TestExt1(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/a.txt", ".txt"},
		{"/photos/IMG_0001.JPG", ".jpg"},
		{"/photos/archive.tar.gz", ".gz"},
		{"/docs/README", "readme"},
		{"/docs/.galleryrc", ".galleryrc"},
		{"/Photos", "photos"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := Ext1(tt.path); got != tt.want {
				t.Errorf("Ext1(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestEntryValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		entry   Entry
		wantErr bool
	}{
		{"file", Entry{Path: "/a", Type: TypeFile, Bytes: 1, MTime: now}, false},
		{"directory", Entry{Path: "/d", Type: TypeDirectory, MTime: now}, false},
		{"empty path", Entry{Type: TypeFile}, true},
		{"unknown type", Entry{Path: "/a", Type: "socket"}, true},
		{"negative size", Entry{Path: "/a", Type: TypeFile, Bytes: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEntry) {
					t.Errorf("expected ErrInvalidEntry, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestNormalizeMTime(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	in := time.Date(2024, 1, 15, 11, 30, 0, 123456789, loc)
	got := NormalizeMTime(in)
	want := time.Date(2024, 1, 15, 10, 30, 0, 123456000, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Errorf("NormalizeMTime = %v, want %v", got, want)
	}
}

func TestUUIDv7GeneratorIsOrdered(t *testing.T) {
	var g UUIDv7Generator
	prev := g.New()
	for i := 0; i < 100; i++ {
		next := g.New()
		if next <= prev {
			t.Fatalf("id %q not after %q", next, prev)
		}
		prev = next
	}
}
