package mheader

import (
	"encoding/binary"

	"github.com/htol/gomobi/mobierr"
)

// FDSTMagic is the 4-byte tag introducing a flow demarcation table.
const FDSTMagic = "FDST"

// FDSTSection is one [Start, End) byte range within the concatenated text.
type FDSTSection struct {
	Start uint32
	End   uint32
}

// FDST is the decoded flow demarcation table.
type FDST struct {
	DataOffset uint32
	Sections   []FDSTSection
}

// DecodeFDST parses an FDST record.
func DecodeFDST(data []byte, location string) (*FDST, error) {
	if len(data) < 12 || string(data[0:4]) != FDSTMagic {
		return nil, mobierr.Magicf(location, []byte(FDSTMagic), safeSlice(data, 4))
	}
	dataOffset := binary.BigEndian.Uint32(data[4:8])
	count := binary.BigEndian.Uint32(data[8:12])
	need := 12 + int(count)*8
	if len(data) < need {
		return nil, mobierr.Malformedf(location, "FDST declares %d sections, needs %d bytes, have %d", count, need, len(data))
	}

	f := &FDST{DataOffset: dataOffset, Sections: make([]FDSTSection, count)}
	for i := uint32(0); i < count; i++ {
		base := 12 + int(i)*8
		f.Sections[i] = FDSTSection{
			Start: binary.BigEndian.Uint32(data[base : base+4]),
			End:   binary.BigEndian.Uint32(data[base+4 : base+8]),
		}
	}
	return f, nil
}

// Encode serializes f back to its record form.
func (f *FDST) Encode() []byte {
	buf := make([]byte, 12+len(f.Sections)*8)
	copy(buf[0:4], FDSTMagic)
	binary.BigEndian.PutUint32(buf[4:8], f.DataOffset)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(f.Sections)))
	for i, s := range f.Sections {
		base := 12 + i*8
		binary.BigEndian.PutUint32(buf[base:base+4], s.Start)
		binary.BigEndian.PutUint32(buf[base+4:base+8], s.End)
	}
	return buf
}

// SplitFlow slices concatenated text into flows per the FDST sections, or
// per §4.5's fallback when fdst is absent or trivial: a single flow holding
// the whole text (or none if the text is empty).
func SplitFlow(text []byte, fdst *FDST, fdstIndexValid bool) [][]byte {
	if !fdstIndexValid || fdst == nil || len(fdst.Sections) <= 1 {
		if len(text) == 0 {
			return [][]byte{}
		}
		return [][]byte{text}
	}

	flows := make([][]byte, len(fdst.Sections))
	for i, s := range fdst.Sections {
		start, end := int(s.Start), int(s.End)
		if start < 0 || end > len(text) || end < start {
			end = start
			if start > len(text) {
				start, end = len(text), len(text)
			}
		}
		flows[i] = text[start:end]
	}
	return flows
}

// BuildFDST constructs the FDST table for a set of flows concatenated in
// order, with dataOffset set to 0 (the flows start at the beginning of the
// owning text stream).
func BuildFDST(flows [][]byte) *FDST {
	f := &FDST{Sections: make([]FDSTSection, len(flows))}
	pos := uint32(0)
	for i, flow := range flows {
		f.Sections[i] = FDSTSection{Start: pos, End: pos + uint32(len(flow))}
		pos += uint32(len(flow))
	}
	return f
}

func safeSlice(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}
