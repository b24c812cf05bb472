package pdb

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	db := New("test-book")
	db.AddRecord([]byte("record zero"), 0, 0)
	db.AddRecord([]byte("record one, a bit longer"), 0x40, 1)
	db.AddRecord([]byte{}, 0, 2)

	var buf bytes.Buffer
	if err := db.Write(&buf, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(buf.Bytes(), nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if got.Name != db.Name {
		t.Errorf("Name = %q, want %q", got.Name, db.Name)
	}
	if len(got.Records) != len(db.Records) {
		t.Fatalf("Records len = %d, want %d", len(got.Records), len(db.Records))
	}
	for i, r := range db.Records {
		if !bytes.Equal(got.Records[i].Data, r.Data) {
			t.Errorf("Records[%d].Data = %q, want %q", i, got.Records[i].Data, r.Data)
		}
		if got.Records[i].Attributes != r.Attributes {
			t.Errorf("Records[%d].Attributes = %d, want %d", i, got.Records[i].Attributes, r.Attributes)
		}
		if got.Records[i].UID != r.UID {
			t.Errorf("Records[%d].UID = %d, want %d", i, got.Records[i].UID, r.UID)
		}
	}
}

func TestReadRejectsBadMagic(t *testing.T) {
	db := New("x")
	var buf bytes.Buffer
	if err := db.Write(&buf, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	b := buf.Bytes()
	copy(b[60:64], []byte("XXXX"))

	if _, err := Read(b, nil); err == nil {
		t.Fatal("expected error for bad type tag, got nil")
	}
}

func TestReadRejectsShortHeader(t *testing.T) {
	if _, err := Read([]byte{1, 2, 3}, nil); err == nil {
		t.Fatal("expected error for short header, got nil")
	}
}

func TestDirectoryOffsetsMatchWrittenBodies(t *testing.T) {
	db := New("offsets")
	db.AddRecord(bytes.Repeat([]byte{'a'}, 10), 0, 0)
	db.AddRecord(bytes.Repeat([]byte{'b'}, 20), 0, 1)

	var buf bytes.Buffer
	if err := db.Write(&buf, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	minLen := HeaderSize + len(db.Records)*dirEntrySize
	if buf.Len() < minLen {
		t.Fatalf("written length %d shorter than minimum %d", buf.Len(), minLen)
	}

	b := buf.Bytes()
	want := minLen
	for i, r := range db.Records {
		base := HeaderSize + i*dirEntrySize
		off := int(binary.BigEndian.Uint32(b[base : base+4]))
		if off != want {
			t.Errorf("directory offset[%d] = %d, want %d", i, off, want)
		}
		if off+len(r.Data) > len(b) || !bytes.Equal(b[off:off+len(r.Data)], r.Data) {
			t.Errorf("record %d body not found at directory offset %d", i, off)
		}
		want += len(r.Data)
	}
}
