package kf8

import (
	"bytes"
	"testing"

	"github.com/htol/gomobi/index"
)

func TestReconstructPartsNoFragments(t *testing.T) {
	raw := []byte("<html><body>one</body></html>more text here")
	skel := []index.Entry{
		{Label: "SKEL0000000000", Tags: map[uint8][]uint32{1: {0}, 6: {0, 23}}},
		{Label: "SKEL0000000001", Tags: map[uint8][]uint32{1: {0}, 6: {23, 20}}},
	}

	parts, err := ReconstructParts(raw, skel, nil)
	if err != nil {
		t.Fatalf("ReconstructParts: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	if !bytes.Equal(parts[0], raw[0:23]) {
		t.Errorf("part[0] = %q, want %q", parts[0], raw[0:23])
	}
	if !bytes.Equal(parts[1], raw[23:43]) {
		t.Errorf("part[1] = %q, want %q", parts[1], raw[23:43])
	}
}

func TestReconstructPartsWithFragmentSplice(t *testing.T) {
	// skeleton: "<a></a>", with one fragment "XYZ" spliced at offset 3.
	skelBytes := []byte("<a></a>")
	fragBody := []byte("XYZ")
	raw := append(append([]byte{}, skelBytes...), fragBody...)

	skel := []index.Entry{
		{Label: "SKEL0000000000", Tags: map[uint8][]uint32{1: {1}, 6: {0, uint32(len(skelBytes))}}},
	}
	frag := []index.Entry{
		{Label: "3", Tags: map[uint8][]uint32{6: {0, uint32(len(fragBody))}}},
	}

	parts, err := ReconstructParts(raw, skel, frag)
	if err != nil {
		t.Fatalf("ReconstructParts: %v", err)
	}
	if len(parts) != 1 {
		t.Fatalf("got %d parts, want 1", len(parts))
	}
	want := []byte("<a>XYZ</a>")
	if !bytes.Equal(parts[0], want) {
		t.Errorf("part[0] = %q, want %q", parts[0], want)
	}
}

func TestBuildSkelFragThenReconstructRoundTrip(t *testing.T) {
	parts := [][]byte{
		[]byte("<p>first part</p>"),
		[]byte("<p>second part</p>"),
		[]byte("<p>third</p>"),
	}

	flow, skel := BuildSkelFrag(parts)
	got, err := ReconstructParts(flow, skel, nil)
	if err != nil {
		t.Fatalf("ReconstructParts: %v", err)
	}
	if len(got) != len(parts) {
		t.Fatalf("got %d parts, want %d", len(got), len(parts))
	}
	for i := range parts {
		if !bytes.Equal(got[i], parts[i]) {
			t.Errorf("part[%d] = %q, want %q", i, got[i], parts[i])
		}
	}
}

func TestReconstructPartsRejectsOutOfRangeFragment(t *testing.T) {
	raw := []byte("<a></a>")
	skel := []index.Entry{
		{Label: "SKEL0000000000", Tags: map[uint8][]uint32{1: {1}, 6: {0, uint32(len(raw))}}},
	}
	if _, err := ReconstructParts(raw, skel, nil); err == nil {
		t.Fatal("expected error when count declares a fragment but none is supplied")
	}
}

func TestJoinPartsUsesNewlineSeparator(t *testing.T) {
	parts := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	got := JoinParts(parts)
	want := []byte("a\nb\nc")
	if !bytes.Equal(got, want) {
		t.Errorf("JoinParts = %q, want %q", got, want)
	}
}
