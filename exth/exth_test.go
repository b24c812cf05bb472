package exth

import (
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	records := []Record{
		StringRecord(TagAuthor, "Sarah White"),
		StringRecord(TagPublisher, "Asciidoctor"),
		StringRecord(TagSubject, "AsciiDoc"),
		StringRecord(TagSubject, "Asciidoctor"),
		Uint32Record(TagKF8Boundary, 42),
	}

	encoded := Encode(records)

	got, n, err := Decode(encoded, "test")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(encoded) {
		t.Errorf("consumed %d bytes, want %d", n, len(encoded))
	}
	if !reflect.DeepEqual(got, records) {
		t.Errorf("Decode = %+v, want %+v", got, records)
	}

	author, ok := First(got, TagAuthor)
	if !ok || author != "Sarah White" {
		t.Errorf("First(author) = %q, %v", author, ok)
	}

	subjects := All(got, TagSubject)
	if !reflect.DeepEqual(subjects, []string{"AsciiDoc", "Asciidoctor"}) {
		t.Errorf("All(subject) = %v", subjects)
	}

	boundary, ok := FirstUint32(got, TagKF8Boundary)
	if !ok || boundary != 42 {
		t.Errorf("FirstUint32(boundary) = %d, %v", boundary, ok)
	}
}

func TestWithoutTag(t *testing.T) {
	records := []Record{
		StringRecord(TagAuthor, "A"),
		Uint32Record(TagKF8Boundary, 7),
	}
	filtered := WithoutTag(records, TagKF8Boundary)
	if len(filtered) != 1 || filtered[0].Tag != TagAuthor {
		t.Errorf("WithoutTag = %+v", filtered)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	if _, _, err := Decode([]byte("XXXXnotreal"), "test"); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestDecodeEmptyRecordList(t *testing.T) {
	encoded := Encode(nil)
	got, n, err := Decode(encoded, "test")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != 12 || len(got) != 0 {
		t.Errorf("n=%d got=%v, want n=12 got=[]", n, got)
	}
}
