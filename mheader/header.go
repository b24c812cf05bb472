// Package mheader implements the MOBI record-0 header family: the
// PalmDOC-style preamble, the MOBI payload and its EXTH/full-name tail, the
// trailing-entry stripping driven by extra_flags, and the FDST flow table.
package mheader

import (
	"encoding/binary"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"

	"github.com/htol/gomobi/exth"
	"github.com/htol/gomobi/mobierr"
	"github.com/htol/gomobi/mobilog"
)

// Index is an optional record/offset index into the enclosing PalmDB. The
// wire sentinel 0xFFFFFFFF never escapes past this type: callers test Valid
// instead of comparing against the raw sentinel.
type Index uint32

// Unset is the wire sentinel meaning "this index is not populated".
const Unset Index = 0xFFFFFFFF

// Valid reports whether i refers to an actual record/offset.
func (i Index) Valid() bool { return i != Unset }

const (
	// Magic is the 4-byte tag introducing the MOBI payload.
	Magic = "MOBI"

	// HeaderLength is the fixed length (in bytes, counted from the magic
	// itself) this implementation always writes.
	HeaderLength = 264

	// PreambleSize is the size of the PalmDOC-style preamble preceding
	// the MOBI magic.
	PreambleSize = 16

	// CompressionNone is the only accepted compression value.
	CompressionNone = 1
	// EncryptionNone is the only accepted encryption value.
	EncryptionNone = 0
	// TextEncodingUTF8 is the only accepted text_encoding value.
	TextEncodingUTF8 = 65001

	// VersionMOBI6 is the legacy MOBI6/KF7 format version.
	VersionMOBI6 = 6
	// VersionKF8Min is the minimum version identifying a KF8 unit.
	VersionKF8Min = 8
)

// absolute byte offsets of the payload fields within record-0, counted from
// the start of the record (i.e. including the 16-byte preamble and the
// 8-byte magic+header_length prefix).
const (
	offMagic            = 16
	offHeaderLength     = 20
	offMobiType         = 24
	offTextEncoding     = 28
	offUID              = 32
	offVersion          = 36
	offFullNameOffset   = 84
	offFullNameLength   = 88
	offMinVersion       = 104
	offImageIndex       = 108
	offEXTHFlags        = 128
	offFdstIndex        = 164
	offFdstSectionCount = 168
	offFCISIndex        = 172
	offFCISCount        = 176
	offFLISIndex        = 180
	offFLISCount        = 184
	offCoverIndex       = 200
	offThumbnailIndex   = 204
	offExtraFlags       = 208
	offFragIndex        = 216
	offSkelIndex        = 220

	payloadEnd = PreambleSize + HeaderLength // absolute offset where EXTH begins
)

// EXTHFlagHasEXTH marks bit 0x40 in exth_flags, set whenever an EXTH block
// follows the payload.
const EXTHFlagHasEXTH = 0x40

// Header is the fully decoded record-0 header: the PalmDOC preamble, the
// MOBI payload fields this codec understands, and the EXTH block/full name
// that follow it.
type Header struct {
	Compression     uint16
	TextLength      uint32
	TextRecordCount uint16
	TextRecordSize  uint16
	Encryption      uint16

	MobiType     uint32
	TextEncoding uint32
	UID          uint32
	Version      uint32

	MinVersion       uint32
	ImageIndex       Index
	EXTHFlags        uint32
	FdstIndex        Index
	FdstLastTextIdx  uint16 // MOBI6 dual-use low half, informational only
	FdstSectionCount uint32
	FCISIndex        Index
	FCISCount        uint32
	FLISIndex        Index
	FLISCount        uint32
	CoverIndex       Index
	ThumbnailIndex   Index
	ExtraFlags       uint16
	FragIndex        Index // version >= 8 only
	SkelIndex        Index // version >= 8 only

	FullName string
	Exth     []exth.Record
}

var utf8Strict = unicode.UTF8.NewDecoder()

func validateUTF8(location string, b []byte) error {
	if _, err := utf8Strict.Bytes(b); err != nil {
		return mobierr.TextEncodingf(location, "field is not valid UTF-8: %v", err)
	}
	return nil
}

// Decode parses a record-0 image starting at data[0]. location names the
// record for error messages (e.g. "record[0]" or "record[12] (kf8)").
func Decode(data []byte, location string, log *zap.Logger) (*Header, error) {
	log = mobilog.Or(log)

	if len(data) < PreambleSize+8 {
		return nil, mobierr.Malformedf(location, "record too short for preamble+magic: %d bytes", len(data))
	}

	h := &Header{
		Compression:     binary.BigEndian.Uint16(data[0:2]),
		TextLength:      binary.BigEndian.Uint32(data[4:8]),
		TextRecordCount: binary.BigEndian.Uint16(data[8:10]),
		TextRecordSize:  binary.BigEndian.Uint16(data[10:12]),
		Encryption:      binary.BigEndian.Uint16(data[12:14]),
	}

	if h.Compression != CompressionNone {
		return nil, mobierr.Compressionf(location, h.Compression)
	}
	if h.Encryption != EncryptionNone {
		return nil, mobierr.Encryptionf(location, h.Encryption)
	}

	if string(data[offMagic:offMagic+4]) != Magic {
		return nil, mobierr.Magicf(location, []byte(Magic), data[offMagic:offMagic+4])
	}
	declaredLen := binary.BigEndian.Uint32(data[offHeaderLength : offHeaderLength+4])
	if len(data) < offMagic+int(declaredLen) {
		return nil, mobierr.Malformedf(location, "MOBI header declares length %d past end of %d-byte record", declaredLen, len(data))
	}

	h.MobiType = binary.BigEndian.Uint32(data[offMobiType : offMobiType+4])
	h.TextEncoding = binary.BigEndian.Uint32(data[offTextEncoding : offTextEncoding+4])
	if h.TextEncoding != TextEncodingUTF8 {
		return nil, mobierr.TextEncodingf(location, "text_encoding=%d, only 65001 (UTF-8) supported", h.TextEncoding)
	}
	h.UID = binary.BigEndian.Uint32(data[offUID : offUID+4])
	h.Version = binary.BigEndian.Uint32(data[offVersion : offVersion+4])

	fullNameOffset := Index(binary.BigEndian.Uint32(data[offFullNameOffset : offFullNameOffset+4]))
	fullNameLen := binary.BigEndian.Uint32(data[offFullNameLength : offFullNameLength+4])
	h.MinVersion = binary.BigEndian.Uint32(data[offMinVersion : offMinVersion+4])
	h.ImageIndex = Index(binary.BigEndian.Uint32(data[offImageIndex : offImageIndex+4]))
	h.EXTHFlags = binary.BigEndian.Uint32(data[offEXTHFlags : offEXTHFlags+4])

	fdstRaw := binary.BigEndian.Uint32(data[offFdstIndex : offFdstIndex+4])
	if h.Version < VersionKF8Min {
		h.FdstLastTextIdx = uint16(fdstRaw)
		h.FdstIndex = Index(uint32(uint16(fdstRaw >> 16)))
		if h.FdstIndex == 0 {
			h.FdstIndex = Unset
		}
	} else {
		h.FdstIndex = Index(fdstRaw)
	}
	h.FdstSectionCount = binary.BigEndian.Uint32(data[offFdstSectionCount : offFdstSectionCount+4])
	h.FCISIndex = Index(binary.BigEndian.Uint32(data[offFCISIndex : offFCISIndex+4]))
	h.FCISCount = binary.BigEndian.Uint32(data[offFCISCount : offFCISCount+4])
	h.FLISIndex = Index(binary.BigEndian.Uint32(data[offFLISIndex : offFLISIndex+4]))
	h.FLISCount = binary.BigEndian.Uint32(data[offFLISCount : offFLISCount+4])
	h.CoverIndex = Index(binary.BigEndian.Uint32(data[offCoverIndex : offCoverIndex+4]))
	h.ThumbnailIndex = Index(binary.BigEndian.Uint32(data[offThumbnailIndex : offThumbnailIndex+4]))
	h.ExtraFlags = binary.BigEndian.Uint16(data[offExtraFlags : offExtraFlags+2])

	if h.Version >= VersionKF8Min {
		h.FragIndex = Index(binary.BigEndian.Uint32(data[offFragIndex : offFragIndex+4]))
		h.SkelIndex = Index(binary.BigEndian.Uint32(data[offSkelIndex : offSkelIndex+4]))
	} else {
		h.FragIndex = Unset
		h.SkelIndex = Unset
	}

	tail := data[offMagic+int(declaredLen):]
	if len(tail) >= 4 && string(tail[0:4]) == exth.Magic {
		records, n, err := exth.Decode(tail, location+"/exth")
		if err != nil {
			return nil, err
		}
		h.Exth = records
		tail = tail[n:]
	}

	if fullNameOffset.Valid() {
		start := int(fullNameOffset)
		end := start + int(fullNameLen)
		if start < 0 || end > len(data) || end < start {
			return nil, mobierr.Malformedf(location, "full_name range [%d,%d) out of bounds (%d bytes)", start, end, len(data))
		}
		nameBytes := data[start:end]
		if err := validateUTF8(location+"/full_name", nameBytes); err != nil {
			return nil, err
		}
		h.FullName = string(nameBytes)
	}

	log.Debug("decoded mobi header", zap.String("location", location), zap.Uint32("version", h.Version), zap.String("full_name", h.FullName))
	return h, nil
}

// NewHeader returns a Header with every optional Index field set to Unset,
// ready for a caller to populate only the slots that apply.
func NewHeader() *Header {
	return &Header{
		ImageIndex:     Unset,
		FdstIndex:      Unset,
		FCISIndex:      Unset,
		FLISIndex:      Unset,
		CoverIndex:     Unset,
		ThumbnailIndex: Unset,
		FragIndex:      Unset,
		SkelIndex:      Unset,
		TextEncoding:   TextEncodingUTF8,
		Compression:    CompressionNone,
		MinVersion:     VersionMOBI6,
	}
}

// Encode serializes h as a complete record-0 image: preamble, the fixed
// 264-byte MOBI payload, the EXTH block (always emitted, even if empty),
// the full name string and a single trailing NUL.
func Encode(h *Header, log *zap.Logger) []byte {
	log = mobilog.Or(log)

	exthBytes := exth.Encode(h.Exth)
	fullNameOffset := payloadEnd + len(exthBytes)
	fullNameBytes := []byte(h.FullName)

	buf := make([]byte, fullNameOffset+len(fullNameBytes)+1)

	binary.BigEndian.PutUint16(buf[0:2], CompressionNone)
	binary.BigEndian.PutUint32(buf[4:8], h.TextLength)
	binary.BigEndian.PutUint16(buf[8:10], h.TextRecordCount)
	binary.BigEndian.PutUint16(buf[10:12], h.TextRecordSize)
	binary.BigEndian.PutUint16(buf[12:14], EncryptionNone)

	copy(buf[offMagic:offMagic+4], Magic)
	binary.BigEndian.PutUint32(buf[offHeaderLength:offHeaderLength+4], HeaderLength)
	binary.BigEndian.PutUint32(buf[offMobiType:offMobiType+4], h.MobiType)
	binary.BigEndian.PutUint32(buf[offTextEncoding:offTextEncoding+4], TextEncodingUTF8)
	binary.BigEndian.PutUint32(buf[offUID:offUID+4], h.UID)
	binary.BigEndian.PutUint32(buf[offVersion:offVersion+4], h.Version)
	binary.BigEndian.PutUint32(buf[offFullNameOffset:offFullNameOffset+4], uint32(fullNameOffset))
	binary.BigEndian.PutUint32(buf[offFullNameLength:offFullNameLength+4], uint32(len(fullNameBytes)))
	binary.BigEndian.PutUint32(buf[offMinVersion:offMinVersion+4], h.MinVersion)
	binary.BigEndian.PutUint32(buf[offImageIndex:offImageIndex+4], uint32(h.ImageIndex))
	binary.BigEndian.PutUint32(buf[offEXTHFlags:offEXTHFlags+4], h.EXTHFlags|EXTHFlagHasEXTH)

	var fdstRaw uint32
	if h.Version < VersionKF8Min {
		// A 0 high half round-trips as Unset on decode, so an unset index
		// must be written as 0, not truncated from the 32-bit sentinel.
		var idx16 uint16
		if h.FdstIndex.Valid() {
			idx16 = uint16(h.FdstIndex)
		}
		fdstRaw = uint32(idx16)<<16 | uint32(h.FdstLastTextIdx)
	} else {
		fdstRaw = uint32(h.FdstIndex)
	}
	binary.BigEndian.PutUint32(buf[offFdstIndex:offFdstIndex+4], fdstRaw)
	binary.BigEndian.PutUint32(buf[offFdstSectionCount:offFdstSectionCount+4], h.FdstSectionCount)
	binary.BigEndian.PutUint32(buf[offFCISIndex:offFCISIndex+4], uint32(h.FCISIndex))
	binary.BigEndian.PutUint32(buf[offFCISCount:offFCISCount+4], 1)
	binary.BigEndian.PutUint32(buf[offFLISIndex:offFLISIndex+4], uint32(h.FLISIndex))
	binary.BigEndian.PutUint32(buf[offFLISCount:offFLISCount+4], 1)
	binary.BigEndian.PutUint32(buf[offCoverIndex:offCoverIndex+4], uint32(h.CoverIndex))
	binary.BigEndian.PutUint32(buf[offThumbnailIndex:offThumbnailIndex+4], uint32(h.ThumbnailIndex))
	binary.BigEndian.PutUint16(buf[offExtraFlags:offExtraFlags+2], h.ExtraFlags)
	if h.Version >= VersionKF8Min {
		binary.BigEndian.PutUint32(buf[offFragIndex:offFragIndex+4], uint32(h.FragIndex))
		binary.BigEndian.PutUint32(buf[offSkelIndex:offSkelIndex+4], uint32(h.SkelIndex))
	}

	copy(buf[payloadEnd:], exthBytes)
	copy(buf[fullNameOffset:], fullNameBytes)

	log.Debug("encoded mobi header", zap.Uint32("version", h.Version), zap.Int("size", len(buf)))
	return buf
}
