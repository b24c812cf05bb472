package mheader

import "github.com/htol/gomobi/varint"

// StripTrailingEntries removes the trailing metadata bytes a text record may
// carry, as driven by extra_flags: for every bit set above bit 0 (scanned
// from the highest bit down), a backward varlen at the record's current tail
// gives the byte count to drop; if bit 0 is set, an additional
// (last_byte & 0x3) + 1 bytes are dropped on top of that.
func StripTrailingEntries(record []byte, extraFlags uint16) []byte {
	if extraFlags == 0 {
		return record
	}

	data := record
	for bit := 15; bit >= 1; bit-- {
		if extraFlags&(1<<uint(bit)) == 0 {
			continue
		}
		if len(data) == 0 {
			break
		}
		size, n, err := varint.DecodeBackward(data)
		if err != nil || n > len(data) {
			break
		}
		total := int(size)
		if total > len(data) {
			total = len(data)
		}
		data = data[:len(data)-total]
	}

	if extraFlags&1 != 0 && len(data) > 0 {
		last := data[len(data)-1]
		n := int(last&0x3) + 1
		if n > len(data) {
			n = len(data)
		}
		data = data[:len(data)-n]
	}

	return data
}
