// Package mobierr defines the typed error taxonomy shared by every layer of
// the container codec, so a caller several frames away from the byte that
// actually failed can still switch on what went wrong.
package mobierr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind tags a CodecError with the taxonomy entry it belongs to.
type Kind int

const (
	// UnsupportedMagic means a fixed 2-8 byte tag (e.g. "BOOK", "MOBI",
	// "TAGX") did not match what the format requires at that location.
	UnsupportedMagic Kind = iota
	// UnsupportedCompression means MobiData.compression was not 1 (none).
	UnsupportedCompression
	// UnsupportedEncryption means MobiData.encryption was not 0 (none).
	UnsupportedEncryption
	// UnsupportedTextEncoding means text_encoding was not 65001 (UTF-8),
	// or a string field failed to decode as valid UTF-8.
	UnsupportedTextEncoding
	// MalformedContainer covers structural PalmDB/MOBI framing failures:
	// truncated reads, negative lengths, offsets past EOF.
	MalformedContainer
	// CorruptIndex covers INDX/TAGX/IDXT structural failures.
	CorruptIndex
	// CorruptFont covers FONT record decode failures, including a decoded
	// size mismatch.
	CorruptFont
	// IoError wraps an underlying I/O failure from the caller-supplied
	// stream.
	IoError
)

func (k Kind) String() string {
	switch k {
	case UnsupportedMagic:
		return "UnsupportedMagic"
	case UnsupportedCompression:
		return "UnsupportedCompression"
	case UnsupportedEncryption:
		return "UnsupportedEncryption"
	case UnsupportedTextEncoding:
		return "UnsupportedTextEncoding"
	case MalformedContainer:
		return "MalformedContainer"
	case CorruptIndex:
		return "CorruptIndex"
	case CorruptFont:
		return "CorruptFont"
	case IoError:
		return "IoError"
	default:
		return "UnknownError"
	}
}

// CodecError is the single structured error value every failure in this
// module surfaces as. Location names the component/offset where the failure
// was detected; Detail is a human-readable explanation; Err, when non-nil,
// is the stack-carrying cause produced by cockroachdb/errors and is reachable
// via errors.Unwrap/errors.As.
type CodecError struct {
	Kind     Kind
	Location string
	Detail   string
	Err      error
}

func (e *CodecError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("mobi: %s at %s", e.Kind, e.Location)
	}
	return fmt.Sprintf("mobi: %s at %s: %s", e.Kind, e.Location, e.Detail)
}

func (e *CodecError) Unwrap() error { return e.Err }

func newf(kind Kind, location, format string, args ...interface{}) *CodecError {
	detail := fmt.Sprintf(format, args...)
	return &CodecError{
		Kind:     kind,
		Location: location,
		Detail:   detail,
		Err:      errors.WithStack(errors.Newf("%s: %s", kind, detail)),
	}
}

// Magicf builds an UnsupportedMagic error reporting what was expected and
// what was actually seen at location.
func Magicf(location string, want, seen []byte) *CodecError {
	return newf(UnsupportedMagic, location, "want %q, seen %q", want, seen)
}

// Compressionf builds an UnsupportedCompression error.
func Compressionf(location string, value uint16) *CodecError {
	return newf(UnsupportedCompression, location, "compression=%d not supported, only 1 (none)", value)
}

// Encryptionf builds an UnsupportedEncryption error.
func Encryptionf(location string, value uint16) *CodecError {
	return newf(UnsupportedEncryption, location, "encryption=%d not supported, only 0 (none)", value)
}

// TextEncodingf builds an UnsupportedTextEncoding error.
func TextEncodingf(location string, format string, args ...interface{}) *CodecError {
	return newf(UnsupportedTextEncoding, location, format, args...)
}

// Malformedf builds a MalformedContainer error.
func Malformedf(location string, format string, args ...interface{}) *CodecError {
	return newf(MalformedContainer, location, format, args...)
}

// CorruptIndexf builds a CorruptIndex error.
func CorruptIndexf(location string, format string, args ...interface{}) *CodecError {
	return newf(CorruptIndex, location, format, args...)
}

// CorruptFontf builds a CorruptFont error.
func CorruptFontf(location string, format string, args ...interface{}) *CodecError {
	return newf(CorruptFont, location, format, args...)
}

// IO wraps err (typically from the caller's io.Reader/io.Writer) as an
// IoError, preserving its stack via cockroachdb/errors.
func IO(location string, err error) *CodecError {
	if err == nil {
		return nil
	}
	return &CodecError{
		Kind:     IoError,
		Location: location,
		Detail:   err.Error(),
		Err:      errors.Wrapf(err, "io at %s", location),
	}
}

// As reports whether err is (or wraps) a *CodecError of the given kind.
func As(err error, kind Kind) bool {
	var ce *CodecError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == kind
}
