// Package index implements the INDX/TAGX/IDXT metadata-index codec: a
// schema-carrying head record (TAGX) followed by one or more data records,
// each holding a table of entries addressed through an IDXT offset table and
// packed via a per-entry bitmask control byte.
package index

import (
	"encoding/binary"
	"math/bits"
	"sort"

	"github.com/htol/gomobi/mobierr"
	"github.com/htol/gomobi/varint"
)

const (
	// Magic introduces an INDX record (head or data).
	Magic = "INDX"
	// TagxMagic introduces the TAGX schema block within the head record.
	TagxMagic = "TAGX"
	// IdxtMagic introduces the IDXT offset table within a data record.
	IdxtMagic = "IDXT"

	headerSize = 28
)

// TagxRow is one schema row: a tag, the number of raw u32 values in one
// occurrence of it, and the control-byte bitmask/shift used to find how many
// occurrences are present in a given entry. Rows with a non-zero
// ControlByteFlag are placeholders that only count towards ControlByteCount.
type TagxRow struct {
	TagID           uint8
	ValuesCount     uint8
	Bitmask         uint8
	ControlByteFlag uint8
}

func (r TagxRow) shift() uint { return uint(bits.TrailingZeros8(r.Bitmask)) }

// Entry is one decoded index entry: a label and a sparse map from tag ID to
// its flat list of decoded values (occurrences × values_count long).
type Entry struct {
	Label string
	Tags  map[uint8][]uint32
}

// Tag returns the value at idx within tag's flat value list.
func (e Entry) Tag(tag uint8, idx int) (uint32, bool) {
	vals, ok := e.Tags[tag]
	if !ok || idx >= len(vals) {
		return 0, false
	}
	return vals[idx], true
}

// Index is a fully decoded INDX record group.
type Index struct {
	Name             string
	Type             uint32
	ControlByteCount int
	Schema           []TagxRow
	Entries          []Entry
}

// Decode parses an index from its constituent PalmDB record bodies: records[0]
// is the head record (header + TAGX schema, no entries); records[1:] are data
// records, each independently self-describing via its own INDX header.
func Decode(name string, records [][]byte, location string) (*Index, error) {
	if len(records) == 0 {
		return nil, mobierr.CorruptIndexf(location, "%s: no records supplied", name)
	}

	head := records[0]
	if len(head) < headerSize || string(head[0:4]) != Magic {
		return nil, mobierr.Magicf(location, []byte(Magic), safeSlice(head, 4))
	}
	headerLength := binary.BigEndian.Uint32(head[4:8])
	typ := binary.BigEndian.Uint32(head[12:16])

	if int(headerLength)+12 > len(head) || string(head[headerLength:headerLength+4]) != TagxMagic {
		return nil, mobierr.Magicf(location, []byte(TagxMagic), safeSlice(head[headerLength:], 4))
	}
	tagxStart := int(headerLength)
	tagxLen := binary.BigEndian.Uint32(head[tagxStart+4 : tagxStart+8])
	controlByteCount := binary.BigEndian.Uint32(head[tagxStart+8 : tagxStart+12])
	if int(tagxLen) < 12 || tagxStart+int(tagxLen) > len(head) {
		return nil, mobierr.CorruptIndexf(location, "%s: TAGX length %d out of range", name, tagxLen)
	}
	rowCount := (int(tagxLen) - 12) / 4
	schema := make([]TagxRow, rowCount)
	for i := 0; i < rowCount; i++ {
		base := tagxStart + 12 + i*4
		schema[i] = TagxRow{
			TagID:           head[base],
			ValuesCount:     head[base+1],
			Bitmask:         head[base+2],
			ControlByteFlag: head[base+3],
		}
	}

	idx := &Index{Name: name, Type: typ, ControlByteCount: int(controlByteCount), Schema: schema}

	for ri, rec := range records[1:] {
		entries, err := decodeDataRecord(rec, schema, int(controlByteCount), location, ri)
		if err != nil {
			return nil, err
		}
		idx.Entries = append(idx.Entries, entries...)
	}

	return idx, nil
}

func decodeDataRecord(rec []byte, schema []TagxRow, controlByteCount int, location string, recordIdx int) ([]Entry, error) {
	if len(rec) < headerSize || string(rec[0:4]) != Magic {
		return nil, mobierr.Magicf(location, []byte(Magic), safeSlice(rec, 4))
	}
	headerLength := binary.BigEndian.Uint32(rec[4:8])
	idxtOffset := binary.BigEndian.Uint32(rec[20:24])
	entriesCount := binary.BigEndian.Uint32(rec[24:28])

	if int(headerLength) > len(rec) || int(idxtOffset)+4 > len(rec) || string(rec[idxtOffset:idxtOffset+4]) != IdxtMagic {
		return nil, mobierr.Magicf(location, []byte(IdxtMagic), safeSlice(rec[idxtOffset:], 4))
	}
	offsetsStart := int(idxtOffset) + 4
	need := offsetsStart + int(entriesCount)*2
	if need > len(rec) {
		return nil, mobierr.CorruptIndexf(location, "data record %d: IDXT table runs past record end", recordIdx)
	}

	offsets := make([]int, entriesCount)
	for i := uint32(0); i < entriesCount; i++ {
		offsets[i] = int(binary.BigEndian.Uint16(rec[offsetsStart+int(i)*2 : offsetsStart+int(i)*2+2]))
	}

	entries := make([]Entry, entriesCount)
	for i, off := range offsets {
		end := int(idxtOffset)
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		if off < 0 || end > len(rec) || end < off {
			return nil, mobierr.CorruptIndexf(location, "data record %d: entry %d has invalid range [%d,%d)", recordIdx, i, off, end)
		}
		entry, err := decodeEntry(rec[off:end], schema, controlByteCount, location, recordIdx, i)
		if err != nil {
			return nil, err
		}
		entries[i] = entry
	}
	return entries, nil
}

func decodeEntry(body []byte, schema []TagxRow, controlByteCount int, location string, recordIdx, entryIdx int) (Entry, error) {
	if len(body) < 1 {
		return Entry{}, mobierr.CorruptIndexf(location, "record %d entry %d: empty body", recordIdx, entryIdx)
	}
	labelLen := int(body[0])
	if 1+labelLen+controlByteCount > len(body) {
		return Entry{}, mobierr.CorruptIndexf(location, "record %d entry %d: label/control bytes run past entry body", recordIdx, entryIdx)
	}
	label := string(body[1 : 1+labelLen])
	controlBytes := body[1+labelLen : 1+labelLen+controlByteCount]
	values := body[1+labelLen+controlByteCount:]

	tags := make(map[uint8][]uint32)
	pos := 0
	for _, row := range schema {
		if row.ControlByteFlag != 0 {
			continue
		}
		// Bitmask is the positioned wire mask; width is its low-aligned
		// form, used both to isolate v's bits and to recognize the escape
		// sentinel (v's every bit set).
		shift := row.shift()
		width := row.Bitmask >> shift
		v := (controlBytes[0] >> shift) & width
		if v == 0 {
			continue
		}
		if v == width && bits.OnesCount8(width) > 1 {
			// Escape: a backward varlen at the tail of the remaining value
			// stream gives the byte length of this tag's value run.
			tail := values[pos:]
			n, consumed, err := varint.DecodeBackward(tail)
			if err != nil {
				return Entry{}, mobierr.CorruptIndexf(location, "record %d entry %d: tag %d escape length decode failed: %v", recordIdx, entryIdx, row.TagID, err)
			}
			runLen := int(n)
			if runLen > len(tail)-consumed {
				runLen = len(tail) - consumed
			}
			run := tail[:runLen]
			var vals []uint32
			for len(run) > 0 {
				val, m, err := varint.DecodeForward(run)
				if err != nil {
					return Entry{}, mobierr.CorruptIndexf(location, "record %d entry %d: tag %d escape value decode failed: %v", recordIdx, entryIdx, row.TagID, err)
				}
				vals = append(vals, val)
				run = run[m:]
			}
			tags[row.TagID] = vals
			pos += runLen
			continue
		}

		count := int(v) * int(row.ValuesCount)
		vals := make([]uint32, 0, count)
		for n := 0; n < count; n++ {
			if pos >= len(values) {
				return Entry{}, mobierr.CorruptIndexf(location, "record %d entry %d: tag %d value stream exhausted", recordIdx, entryIdx, row.TagID)
			}
			val, consumed, err := varint.DecodeForward(values[pos:])
			if err != nil {
				return Entry{}, mobierr.CorruptIndexf(location, "record %d entry %d: tag %d value decode failed: %v", recordIdx, entryIdx, row.TagID, err)
			}
			vals = append(vals, val)
			pos += consumed
		}
		tags[row.TagID] = vals
	}

	return Entry{Label: label, Tags: tags}, nil
}

// HeadDataRecordCount reads just enough of an index's head record to learn
// how many data records follow it, so a caller can slice exactly that many
// consecutive PalmDB records before calling Decode.
func HeadDataRecordCount(head []byte, location string) (int, error) {
	if len(head) < headerSize || string(head[0:4]) != Magic {
		return 0, mobierr.Magicf(location, []byte(Magic), safeSlice(head, 4))
	}
	return int(binary.BigEndian.Uint32(head[24:28])), nil
}

func safeSlice(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}

// DeriveSchema builds the single-control-byte schema this codec's writer
// requires: one tag row per distinct tag ID seen across entries (sorted by
// tag ID), each occupying exactly one bit (entries either have a tag once or
// not at all — the only shape this domain's SKEL/FRAG indices need).
// Entries must be uniform: every entry carrying a given tag must supply the
// same number of raw values for it.
func DeriveSchema(entries []Entry) ([]TagxRow, error) {
	valuesCount := map[uint8]int{}
	var tagIDs []uint8
	seen := map[uint8]bool{}

	for _, e := range entries {
		for tag, vals := range e.Tags {
			if vc, ok := valuesCount[tag]; ok {
				if vc != len(vals) {
					return nil, mobierr.CorruptIndexf("index.DeriveSchema", "tag %d has non-uniform value count: %d vs %d", tag, vc, len(vals))
				}
			} else {
				valuesCount[tag] = len(vals)
				if !seen[tag] {
					seen[tag] = true
					tagIDs = append(tagIDs, tag)
				}
			}
		}
	}
	sort.Slice(tagIDs, func(i, j int) bool { return tagIDs[i] < tagIDs[j] })

	if len(tagIDs) > 8 {
		return nil, mobierr.CorruptIndexf("index.DeriveSchema", "%d distinct tags need more than one control byte, unsupported by this writer", len(tagIDs))
	}

	schema := make([]TagxRow, len(tagIDs))
	for i, tag := range tagIDs {
		schema[i] = TagxRow{
			TagID:       tag,
			ValuesCount: uint8(valuesCount[tag]),
			Bitmask:     1 << uint(i),
		}
	}
	return schema, nil
}

// Encode serializes an index as exactly two PalmDB record bodies: a head
// record (header + TAGX schema, no entries) and a single data record holding
// every entry. This is the only shape the writer needs to produce, matching
// the single-control-byte restriction.
func Encode(_ string, typ uint32, entries []Entry) ([][]byte, error) {
	schema, err := DeriveSchema(entries)
	if err != nil {
		return nil, err
	}

	tagx := encodeTagx(schema)
	head := encodeHeader(headerSize, 0, typ, uint32(1))
	head = append(head, tagx...)

	var entryBodies [][]byte
	for _, e := range entries {
		entryBodies = append(entryBodies, encodeEntry(e, schema))
	}

	entriesStart := headerSize
	offsets := make([]int, len(entryBodies))
	pos := entriesStart
	var bodyBuf []byte
	for i, b := range entryBodies {
		offsets[i] = pos
		bodyBuf = append(bodyBuf, b...)
		pos += len(b)
	}
	idxtOffset := pos

	data := encodeHeader(headerSize, idxtOffset, typ, uint32(len(entries)))
	data = append(data, bodyBuf...)
	data = append(data, IdxtMagic...)
	for _, off := range offsets {
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(off))
		data = append(data, tmp[:]...)
	}

	return [][]byte{head, data}, nil
}

func encodeHeader(headerLength, idxtOffset int, typ, entriesCount uint32) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], Magic)
	binary.BigEndian.PutUint32(buf[4:8], uint32(headerLength))
	binary.BigEndian.PutUint32(buf[12:16], typ)
	binary.BigEndian.PutUint32(buf[20:24], uint32(idxtOffset))
	binary.BigEndian.PutUint32(buf[24:28], entriesCount)
	return buf
}

func encodeTagx(schema []TagxRow) []byte {
	length := 12 + len(schema)*4
	buf := make([]byte, 0, length)
	buf = append(buf, TagxMagic...)
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(length))
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], 1) // control_byte_count
	buf = append(buf, tmp[:]...)
	for _, row := range schema {
		buf = append(buf, row.TagID, row.ValuesCount, row.Bitmask, row.ControlByteFlag)
	}
	return buf
}

func encodeEntry(e Entry, schema []TagxRow) []byte {
	label := []byte(e.Label)
	buf := make([]byte, 0, 2+len(label))
	buf = append(buf, byte(len(label)))
	buf = append(buf, label...)

	var control byte
	for _, row := range schema {
		if _, ok := e.Tags[row.TagID]; ok {
			control |= row.Bitmask
		}
	}
	buf = append(buf, control)

	for _, row := range schema {
		vals, ok := e.Tags[row.TagID]
		if !ok {
			continue
		}
		for _, v := range vals {
			buf = append(buf, varint.EncodeForward(v)...)
		}
	}
	return buf
}
