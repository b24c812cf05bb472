package mheader

import "encoding/binary"

// FCISMagic and FLISMagic introduce the fixed-size bookkeeping records a
// hybrid write emits alongside the KF8 unit. Neither carries information
// this codec's reader depends on; they exist for on-device compatibility.
const (
	FCISMagic    = "FCIS"
	FLISMagic    = "FLIS"
	fcisFlisSize = 36
)

// EncodeFCIS builds the fixed 36-byte FCIS record, its only meaningful
// field being the KF8 unit's total text length.
func EncodeFCIS(textLength uint32) []byte {
	buf := make([]byte, fcisFlisSize)
	copy(buf[0:4], FCISMagic)
	binary.BigEndian.PutUint32(buf[4:8], textLength)
	return buf
}

// EncodeFLIS builds the fixed 36-byte FLIS record template.
func EncodeFLIS() []byte {
	buf := make([]byte, fcisFlisSize)
	copy(buf[0:4], FLISMagic)
	return buf
}
