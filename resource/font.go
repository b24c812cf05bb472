package resource

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/htol/gomobi/mobierr"
)

const fontHeaderSize = 24

// flagXOR marks that the first min(len, 1040) bytes are XOR-obfuscated with
// the record's own embedded key.
const flagXOR = 0b10

// flagDeflate marks that the payload is DEFLATE-compressed.
const flagDeflate = 0b1

const xorWindow = 1040

// DecodeFont decodes a FONT resource record, reversing XOR obfuscation (if
// flagged) and DEFLATE compression (if flagged), and validates the decoded
// length against the record's declared size.
func DecodeFont(rec []byte, location string) ([]byte, error) {
	if len(rec) < fontHeaderSize || string(rec[0:4]) != "FONT" {
		return nil, mobierr.Magicf(location, []byte("FONT"), safeSlice(rec, 4))
	}
	decodedSize := binary.BigEndian.Uint32(rec[4:8])
	flags := binary.BigEndian.Uint32(rec[8:12])
	dataOffset := binary.BigEndian.Uint32(rec[12:16])
	xorKeyLen := binary.BigEndian.Uint32(rec[16:20])
	xorKeyOffset := binary.BigEndian.Uint32(rec[20:24])

	if int(dataOffset) > len(rec) {
		return nil, mobierr.CorruptFontf(location, "data_offset %d exceeds record length %d", dataOffset, len(rec))
	}
	data := append([]byte(nil), rec[dataOffset:]...)

	if flags&flagXOR != 0 {
		if int(xorKeyOffset)+int(xorKeyLen) > len(rec) || xorKeyLen == 0 {
			return nil, mobierr.CorruptFontf(location, "xor key range [%d,%d) invalid for record length %d", xorKeyOffset, xorKeyOffset+xorKeyLen, len(rec))
		}
		key := rec[xorKeyOffset : xorKeyOffset+xorKeyLen]
		n := len(data)
		if n > xorWindow {
			n = xorWindow
		}
		for i := 0; i < n; i++ {
			data[i] ^= key[i%len(key)]
		}
	}

	if flags&flagDeflate != 0 {
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		decoded, err := io.ReadAll(r)
		if err != nil {
			return nil, mobierr.CorruptFontf(location, "deflate decompression failed: %v", err)
		}
		data = decoded
	}

	if uint32(len(data)) != decodedSize {
		return nil, mobierr.CorruptFontf(location, "decoded size %d does not match declared size %d", len(data), decodedSize)
	}
	return data, nil
}

// EncodeFont serializes a decoded font payload as a FONT record, always
// using deflate-only compression (flags=0b1) with an empty key, per the
// writer's single supported emission shape.
func EncodeFont(decoded []byte) []byte {
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.BestCompression)
	_, _ = w.Write(decoded)
	_ = w.Close()
	compressed := buf.Bytes()

	header := make([]byte, fontHeaderSize)
	copy(header[0:4], "FONT")
	binary.BigEndian.PutUint32(header[4:8], uint32(len(decoded)))
	binary.BigEndian.PutUint32(header[8:12], flagDeflate)
	binary.BigEndian.PutUint32(header[12:16], fontHeaderSize)
	binary.BigEndian.PutUint32(header[16:20], 0)
	binary.BigEndian.PutUint32(header[20:24], 0)

	return append(header, compressed...)
}

func safeSlice(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}
