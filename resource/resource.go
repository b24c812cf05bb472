// Package resource implements the MOBI resource section codec: the
// magic-prefix classification of image/font/audio/video records that follow
// a text unit's image index, and the audio/video header strip-on-read,
// add-on-write convention.
package resource

import (
	"bytes"
	"encoding/binary"

	"github.com/htol/gomobi/mobierr"
)

// Kind classifies one resource record by its magic prefix.
type Kind int

const (
	KindUnknown Kind = iota
	KindJPEG
	KindPNG
	KindGIF
	KindBMP
	KindFont
	KindAudio
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindJPEG:
		return "jpeg"
	case KindPNG:
		return "png"
	case KindGIF:
		return "gif"
	case KindBMP:
		return "bmp"
	case KindFont:
		return "font"
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// BoundaryMagic marks the end of a resource block when present as a
// literal record body.
const BoundaryMagic = "BOUNDARY"

// EOFMagic is the alternative resource-block terminator.
var EOFMagic = []byte{0xE9, 0x8E, '\r', '\n'}

var (
	jpegPrefix = []byte{0xFF, 0xD8, 0xFF}
	pngPrefix  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
	gifPrefix  = []byte("GIF8")
)

// Classify identifies a record's resource kind from its magic prefix.
func Classify(rec []byte) Kind {
	switch {
	case bytes.HasPrefix(rec, jpegPrefix):
		return KindJPEG
	case bytes.HasPrefix(rec, pngPrefix):
		return KindPNG
	case bytes.HasPrefix(rec, gifPrefix):
		return KindGIF
	case len(rec) >= 6 && rec[0] == 'B' && rec[1] == 'M' && declaredBMPSizeMatches(rec):
		return KindBMP
	case bytes.HasPrefix(rec, []byte("FONT")):
		return KindFont
	case bytes.HasPrefix(rec, []byte("AUDI")):
		return KindAudio
	case bytes.HasPrefix(rec, []byte("VIDE")):
		return KindVideo
	default:
		return KindUnknown
	}
}

func declaredBMPSizeMatches(rec []byte) bool {
	declared := binary.LittleEndian.Uint32(rec[2:6])
	return int(declared) == len(rec)
}

// Resource is one decoded resource record with its header-stripped, fully
// decoded payload.
type Resource struct {
	Kind Kind
	Data []byte
}

const avHeaderSize = 8

// DecodeAll scans consecutive resource records until a BOUNDARY record or
// the EOF magic is seen (exclusive of the terminator), decoding each.
func DecodeAll(records [][]byte, location string) ([]Resource, error) {
	var out []Resource
	for i, rec := range records {
		if string(rec) == BoundaryMagic || bytes.Equal(rec, EOFMagic) {
			break
		}
		r, err := decodeOne(rec, location, i)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func decodeOne(rec []byte, location string, idx int) (Resource, error) {
	kind := Classify(rec)
	switch kind {
	case KindFont:
		data, err := DecodeFont(rec, location)
		if err != nil {
			return Resource{}, err
		}
		return Resource{Kind: KindFont, Data: data}, nil
	case KindAudio, KindVideo:
		if len(rec) < avHeaderSize {
			return Resource{}, mobierr.Malformedf(location, "resource[%d]: %s record shorter than header", idx, kind)
		}
		headerEnd := binary.BigEndian.Uint32(rec[4:8])
		if int(headerEnd) > len(rec) {
			return Resource{}, mobierr.Malformedf(location, "resource[%d]: %s header_end %d exceeds record length %d", idx, kind, headerEnd, len(rec))
		}
		return Resource{Kind: kind, Data: append([]byte(nil), rec[headerEnd:]...)}, nil
	default:
		return Resource{Kind: kind, Data: append([]byte(nil), rec...)}, nil
	}
}

// EncodeAll serializes resources back to record bodies, adding the
// audio/video header prefix and appending the trailing BOUNDARY record.
func EncodeAll(resources []Resource) [][]byte {
	out := make([][]byte, 0, len(resources)+1)
	for _, r := range resources {
		switch r.Kind {
		case KindFont:
			out = append(out, EncodeFont(r.Data))
		case KindAudio:
			out = append(out, encodeAVHeader("AUDI", r.Data))
		case KindVideo:
			out = append(out, encodeAVHeader("VIDE", r.Data))
		default:
			out = append(out, append([]byte(nil), r.Data...))
		}
	}
	out = append(out, []byte(BoundaryMagic))
	return out
}

func encodeAVHeader(magic string, data []byte) []byte {
	buf := make([]byte, avHeaderSize+len(data))
	copy(buf[0:4], magic)
	binary.BigEndian.PutUint32(buf[4:8], avHeaderSize)
	copy(buf[avHeaderSize:], data)
	return buf
}
