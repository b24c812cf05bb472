package mheader

import (
	"bytes"
	"testing"

	"github.com/htol/gomobi/varint"
)

func TestStripTrailingEntriesNoFlags(t *testing.T) {
	record := []byte("hello world")
	got := StripTrailingEntries(record, 0)
	if !bytes.Equal(got, record) {
		t.Errorf("StripTrailingEntries with no flags changed the record: %q", got)
	}
}

func TestStripTrailingEntriesMultibyteFlag(t *testing.T) {
	text := []byte("hello world")
	// a 3-byte trailing entry: two payload bytes, then its own size as a
	// 1-byte backward varlen
	entry := append([]byte{0xAA, 0xBB}, varint.EncodeBackward(3)...)
	record := append(append([]byte{}, text...), entry...)

	got := StripTrailingEntries(record, 0x2) // bit 1 set
	if !bytes.Equal(got, text) {
		t.Errorf("StripTrailingEntries = %q, want %q", got, text)
	}
}

func TestStripTrailingEntriesBit0(t *testing.T) {
	text := []byte("hello world")
	record := append(append([]byte{}, text...), 0x02) // low 2 bits = 2 -> strip 3 bytes
	got := StripTrailingEntries(record, 0x1)
	want := record[:len(record)-3]
	if !bytes.Equal(got, want) {
		t.Errorf("StripTrailingEntries = %q, want %q", got, want)
	}
}
