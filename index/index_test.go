package index

import (
	"fmt"
	"testing"
)

// buildFragEntries constructs a synthetic FRAG-shaped entry set of n entries,
// with entry[9] matching the documented (position, length) pair.
func buildFragEntries(n int) []Entry {
	entries := make([]Entry, n)
	for i := 0; i < n; i++ {
		entries[i] = Entry{
			Label: fmt.Sprintf("%010d", i*2000+17), // decimal insertion-point label
			Tags:  map[uint8][]uint32{6: {uint32(i * 2000), 2521}},
		}
	}
	entries[9] = Entry{
		Label: "0000017634",
		Tags:  map[uint8][]uint32{6: {17109, 2521}},
	}
	return entries
}

func buildSkelEntries(n int) []Entry {
	entries := make([]Entry, n)
	for i := 0; i < n; i++ {
		entries[i] = Entry{
			Label: fmt.Sprintf("SKEL%010d", i),
			Tags: map[uint8][]uint32{
				1: {1},
				6: {uint32(i * 1000), 500},
			},
		}
	}
	entries[9] = Entry{
		Label: "SKEL0000000009",
		Tags: map[uint8][]uint32{
			1: {1},
			6: {17109, 539},
		},
	}
	return entries
}

func TestFragIndexRoundTripEntryNine(t *testing.T) {
	entries := buildFragEntries(10)
	records, err := Encode("FRAG", 0, entries)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode("FRAG", records, "frag")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Entries) != 10 {
		t.Fatalf("got %d entries, want 10", len(got.Entries))
	}

	e9 := got.Entries[9]
	if e9.Label != "0000017634" {
		t.Errorf("entry[9].Label = %q, want %q", e9.Label, "0000017634")
	}
	v, ok := e9.Tag(6, 1)
	if !ok || v != 2521 {
		t.Errorf("entry[9].Tag(6,1) = %d, %v, want 2521, true", v, ok)
	}
}

func TestSkelIndexRoundTripEntryNine(t *testing.T) {
	entries := buildSkelEntries(10)
	records, err := Encode("SKEL", 0, entries)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode("SKEL", records, "skel")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Entries) != 10 {
		t.Fatalf("got %d entries, want 10", len(got.Entries))
	}

	e9 := got.Entries[9]
	if e9.Label != "SKEL0000000009" {
		t.Errorf("entry[9].Label = %q, want %q", e9.Label, "SKEL0000000009")
	}
	if v, ok := e9.Tag(1, 0); !ok || v != 1 {
		t.Errorf("entry[9].Tag(1,0) = %d, %v, want 1, true", v, ok)
	}
	if v, ok := e9.Tag(6, 0); !ok || v != 17109 {
		t.Errorf("entry[9].Tag(6,0) = %d, %v, want 17109, true", v, ok)
	}
	if v, ok := e9.Tag(6, 1); !ok || v != 539 {
		t.Errorf("entry[9].Tag(6,1) = %d, %v, want 539, true", v, ok)
	}
}

func TestDeriveSchemaRejectsNonUniformShape(t *testing.T) {
	entries := []Entry{
		{Label: "a", Tags: map[uint8][]uint32{6: {1, 2}}},
		{Label: "b", Tags: map[uint8][]uint32{6: {1, 2, 3}}},
	}
	if _, err := DeriveSchema(entries); err == nil {
		t.Fatal("expected error for non-uniform tag shape")
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	if _, err := Decode("FRAG", [][]byte{[]byte("not an index record at all, long enough")}, "frag"); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestEntryTagMissing(t *testing.T) {
	e := Entry{Label: "x", Tags: map[uint8][]uint32{1: {5}}}
	if _, ok := e.Tag(9, 0); ok {
		t.Error("Tag(9,0) should be absent")
	}
	if _, ok := e.Tag(1, 5); ok {
		t.Error("Tag(1,5) should be out of range")
	}
}
