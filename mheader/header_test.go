package mheader

import (
	"testing"

	"github.com/htol/gomobi/exth"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := NewHeader()
	h.MobiType = 2
	h.Version = VersionMOBI6
	h.UID = 0
	h.TextLength = 1024
	h.TextRecordCount = 1
	h.TextRecordSize = 4096
	h.FullName = "Sample Book"
	h.FdstIndex = Unset
	h.Exth = []exth.Record{exth.StringRecord(exth.TagAuthor, "Sarah White")}

	encoded := Encode(h, nil)

	got, err := Decode(encoded, "record[0]", nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.MobiType != h.MobiType {
		t.Errorf("MobiType = %d, want %d", got.MobiType, h.MobiType)
	}
	if got.Version != h.Version {
		t.Errorf("Version = %d, want %d", got.Version, h.Version)
	}
	if got.FullName != h.FullName {
		t.Errorf("FullName = %q, want %q", got.FullName, h.FullName)
	}
	if got.ImageIndex.Valid() {
		t.Errorf("ImageIndex should remain unset")
	}
	author, ok := exth.First(got.Exth, exth.TagAuthor)
	if !ok || author != "Sarah White" {
		t.Errorf("author = %q, %v", author, ok)
	}
}

func TestDecodeRejectsUnsupportedCompression(t *testing.T) {
	h := NewHeader()
	h.Version = VersionMOBI6
	h.MobiType = 2
	encoded := Encode(h, nil)
	encoded[0] = 0
	encoded[1] = 2 // PalmDOC compression, unsupported

	if _, err := Decode(encoded, "record[0]", nil); err == nil {
		t.Fatal("expected UnsupportedCompression error")
	}
}

func TestDecodeRejectsBadTextEncoding(t *testing.T) {
	h := NewHeader()
	h.Version = VersionMOBI6
	h.MobiType = 2
	encoded := Encode(h, nil)
	encoded[offTextEncoding] = 0
	encoded[offTextEncoding+1] = 0
	encoded[offTextEncoding+2] = 4
	encoded[offTextEncoding+3] = 228 // CP1252, not UTF-8

	if _, err := Decode(encoded, "record[0]", nil); err == nil {
		t.Fatal("expected UnsupportedTextEncoding error")
	}
}

func TestKF8HeaderCarriesFragSkelIndex(t *testing.T) {
	h := NewHeader()
	h.Version = 8
	h.MobiType = 2
	h.FragIndex = 3
	h.SkelIndex = 2

	encoded := Encode(h, nil)
	got, err := Decode(encoded, "record[n] (kf8)", nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.FragIndex != 3 || got.SkelIndex != 2 {
		t.Errorf("FragIndex=%d SkelIndex=%d, want 3,2", got.FragIndex, got.SkelIndex)
	}
}
