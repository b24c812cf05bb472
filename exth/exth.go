// Package exth implements the EXTH "Extended Header" metadata block: a
// tagged key/value record list embedded in a MOBI record-0 immediately after
// the fixed MOBI header payload.
package exth

import (
	"encoding/binary"

	"github.com/htol/gomobi/mobierr"
)

// Well-known EXTH tags used by the façade; the format defines many more,
// which round-trip untouched as opaque Records.
const (
	TagAuthor          = 100
	TagPublisher       = 101
	TagDescription     = 103
	TagISBN            = 104
	TagSubject         = 105
	TagPublishedDate   = 106
	TagReview          = 107
	TagContributor     = 108
	TagRights          = 109
	TagSource          = 112
	TagASIN            = 113
	TagLanguage        = 524
	TagKF8Boundary     = 121
	TagCreatorSoftware = 204
)

// Magic is the 4-byte tag introducing an EXTH block.
const Magic = "EXTH"

// Record is one EXTH entry: a tag and its raw payload bytes.
type Record struct {
	Tag  uint32
	Data []byte
}

// Decode parses an EXTH block starting at data[0]. It returns the records
// and the number of bytes consumed (the block's declared length), so the
// caller can continue reading immediately after it.
func Decode(data []byte, location string) ([]Record, int, error) {
	if len(data) < 12 || string(data[0:4]) != Magic {
		return nil, 0, mobierr.Magicf(location, []byte(Magic), safeSlice(data, 4))
	}
	length := binary.BigEndian.Uint32(data[4:8])
	count := binary.BigEndian.Uint32(data[8:12])
	if int(length) < 12 || int(length) > len(data) {
		return nil, 0, mobierr.Malformedf(location, "EXTH length %d out of range for %d available bytes", length, len(data))
	}

	records := make([]Record, 0, count)
	pos := 12
	for i := uint32(0); i < count; i++ {
		if pos+8 > int(length) {
			return nil, 0, mobierr.Malformedf(location, "EXTH record %d header runs past declared length %d", i, length)
		}
		tag := binary.BigEndian.Uint32(data[pos : pos+4])
		recLen := binary.BigEndian.Uint32(data[pos+4 : pos+8])
		if recLen < 8 || pos+int(recLen) > int(length) {
			return nil, 0, mobierr.Malformedf(location, "EXTH record %d declares length %d, out of range", i, recLen)
		}
		payload := make([]byte, recLen-8)
		copy(payload, data[pos+8:pos+int(recLen)])
		records = append(records, Record{Tag: tag, Data: payload})
		pos += int(recLen)
	}

	return records, int(length), nil
}

// Encode serializes records into a complete EXTH block (magic, length,
// count, then each record as tag/total-length/data), with no trailing
// padding.
func Encode(records []Record) []byte {
	total := 12
	for _, r := range records {
		total += 8 + len(r.Data)
	}

	out := make([]byte, 0, total)
	out = append(out, Magic...)
	out = appendUint32(out, uint32(total))
	out = appendUint32(out, uint32(len(records)))
	for _, r := range records {
		out = appendUint32(out, r.Tag)
		out = appendUint32(out, uint32(8+len(r.Data)))
		out = append(out, r.Data...)
	}
	return out
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func safeSlice(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}

// StringRecord builds a Record carrying a UTF-8 string payload.
func StringRecord(tag uint32, value string) Record {
	return Record{Tag: tag, Data: []byte(value)}
}

// Uint32Record builds a Record carrying a big-endian u32 payload, used for
// tags like the KF8 boundary (121).
func Uint32Record(tag uint32, value uint32) Record {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, value)
	return Record{Tag: tag, Data: data}
}

// First returns the first record's data for tag as a string, and whether it
// was found.
func First(records []Record, tag uint32) (string, bool) {
	for _, r := range records {
		if r.Tag == tag {
			return string(r.Data), true
		}
	}
	return "", false
}

// FirstUint32 returns the first record's data for tag decoded as a
// big-endian u32.
func FirstUint32(records []Record, tag uint32) (uint32, bool) {
	for _, r := range records {
		if r.Tag == tag && len(r.Data) >= 4 {
			return binary.BigEndian.Uint32(r.Data), true
		}
	}
	return 0, false
}

// All returns every record's data for tag, in declaration order (used for
// repeatable tags like subject).
func All(records []Record, tag uint32) []string {
	var out []string
	for _, r := range records {
		if r.Tag == tag {
			out = append(out, string(r.Data))
		}
	}
	return out
}

// WithoutTag returns a copy of records with every entry matching tag
// removed, used when moving the KF8-boundary record between a hybrid's two
// EXTH blocks.
func WithoutTag(records []Record, tag uint32) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Tag != tag {
			out = append(out, r)
		}
	}
	return out
}
