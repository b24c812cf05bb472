// Package kf8 reconstructs the ordered HTML "parts" of a MOBI text unit from
// its flat raw markup stream and the SKEL/FRAG metadata indices, and builds
// the inverse layout when writing a text unit back out.
package kf8

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/htol/gomobi/index"
	"github.com/htol/gomobi/mobierr"
)

// ReconstructParts rebuilds the ordered HTML parts from the raw markup
// stream using the decoded SKEL and FRAG indices, per the sequential
// skeleton-then-fragments stream layout: each skeleton's own bytes sit at
// its declared [pos, pos+len) range, and the fragment bodies assigned to it
// follow immediately afterwards, in index order.
func ReconstructParts(raw []byte, skel, frag []index.Entry) ([][]byte, error) {
	parts := make([][]byte, 0, len(skel))
	fragCursor := 0
	insertOffset := 0
	cursor := 0

	for si, s := range skel {
		pos, ok := s.Tag(6, 0)
		if !ok {
			return nil, mobierr.Malformedf("kf8.ReconstructParts", "skel[%d]: missing tag(6,0)", si)
		}
		length, ok := s.Tag(6, 1)
		if !ok {
			return nil, mobierr.Malformedf("kf8.ReconstructParts", "skel[%d]: missing tag(6,1)", si)
		}
		count, ok := s.Tag(1, 0)
		if !ok {
			return nil, mobierr.Malformedf("kf8.ReconstructParts", "skel[%d]: missing tag(1,0)", si)
		}

		end := pos + length
		if int(end) > len(raw) {
			return nil, mobierr.Malformedf("kf8.ReconstructParts", "skel[%d]: range [%d,%d) exceeds raw stream of length %d", si, pos, end, len(raw))
		}
		part := append([]byte(nil), raw[pos:end]...)
		cursor = int(end)

		for i := 0; i < int(count); i++ {
			idx := fragCursor + i
			if idx >= len(frag) {
				return nil, mobierr.Malformedf("kf8.ReconstructParts", "skel[%d]: fragment %d out of range (have %d FRAG entries)", si, idx, len(frag))
			}
			f := frag[idx]

			insertPos, err := strconv.Atoi(f.Label)
			if err != nil {
				return nil, mobierr.Malformedf("kf8.ReconstructParts", "frag[%d]: label %q is not a decimal insertion point", idx, f.Label)
			}
			insertPos -= insertOffset

			flen, ok := f.Tag(6, 1)
			if !ok {
				return nil, mobierr.Malformedf("kf8.ReconstructParts", "frag[%d]: missing tag(6,1)", idx)
			}
			if cursor+int(flen) > len(raw) {
				return nil, mobierr.Malformedf("kf8.ReconstructParts", "frag[%d]: body [%d,%d) exceeds raw stream of length %d", idx, cursor, cursor+int(flen), len(raw))
			}
			body := raw[cursor : cursor+int(flen)]
			cursor += int(flen)

			if insertPos < 0 || insertPos > len(part) {
				return nil, mobierr.Malformedf("kf8.ReconstructParts", "frag[%d]: insertion point %d out of bounds for part of length %d", idx, insertPos, len(part))
			}
			spliced := make([]byte, 0, len(part)+len(body))
			spliced = append(spliced, part[:insertPos]...)
			spliced = append(spliced, body...)
			spliced = append(spliced, part[insertPos:]...)
			part = spliced
		}

		fragCursor += int(count)
		insertOffset += len(part)
		parts = append(parts, part)
	}

	return parts, nil
}

// JoinParts serializes ordered HTML parts back into the flat raw stream
// that becomes flow[0], joining with a newline per §3's round-trip rule.
func JoinParts(parts [][]byte) []byte {
	return bytes.Join(parts, []byte("\n"))
}

// BuildSkelFrag constructs the raw flow and a fragment-free SKEL index for
// a set of parts being written out. Every part becomes its own skeleton
// block spanning its own bytes in the joined stream (skipping the
// newline separators, which belong to no part); no FRAG entries are
// produced, since this library never needs to re-splice content into an
// existing skeleton block on write.
func BuildSkelFrag(parts [][]byte) (flow []byte, skel []index.Entry) {
	flow = JoinParts(parts)

	skel = make([]index.Entry, len(parts))
	pos := 0
	for i, part := range parts {
		skel[i] = index.Entry{
			Label: fmt.Sprintf("SKEL%010d", i),
			Tags: map[uint8][]uint32{
				1: {0},
				6: {uint32(pos), uint32(len(part))},
			},
		}
		pos += len(part)
		if i != len(parts)-1 {
			pos++ // the "\n" separator
		}
	}
	return flow, skel
}
