package lawicel

import (
	"errors"
	"fmt"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	// ErrTransportOpen reports that the byte stream could not be opened.
	ErrTransportOpen = errors.New("lawicel: transport open")
	// ErrConfiguration reports a failed handshake step; see HandshakeError.
	ErrConfiguration = errors.New("lawicel: configuration")

	ErrFormat            = errors.New("lawicel: frame format")
	ErrSizeMismatch      = errors.New("lawicel: encoded size mismatch")
	ErrDataLoss          = errors.New("lawicel: short write")
	ErrUnsuccessfulSend  = errors.New("lawicel: adapter rejected frame")
	ErrIncorrectResponse = errors.New("lawicel: incorrect response")

	ErrBufferOverflow = errors.New("lawicel: receive buffer overflow")
	// ErrIndexing is returned when no terminated response could be
	// delimited within the read budget of a call (an idle line).
	ErrIndexing = errors.New("lawicel: no terminated response")

	// ErrTransport wraps fatal read/write failures of the byte stream.
	ErrTransport = errors.New("lawicel: transport")
	ErrClosed    = errors.New("lawicel: channel closed")
)

// ParseErrorKind is the closed set of reasons a byte run is not a valid
// frame or serial number. Kinds are errors themselves so errors.Is works on
// anything wrapping a *ParseError.
type ParseErrorKind uint8

const (
	ErrInvalidSize ParseErrorKind = iota + 1
	ErrStartMarker
	ErrIntegerParse
	ErrEncoding
	ErrDLC
	ErrPayload
	ErrTimestamp
	ErrTermination
)

var parseKindNames = map[ParseErrorKind]string{
	ErrInvalidSize:  "invalid size",
	ErrStartMarker:  "bad start marker",
	ErrIntegerParse: "integer parse",
	ErrEncoding:     "encoding",
	ErrDLC:          "dlc",
	ErrPayload:      "payload field",
	ErrTimestamp:    "timestamp",
	ErrTermination:  "missing terminator",
}

func (k ParseErrorKind) Error() string {
	if s, ok := parseKindNames[k]; ok {
		return "lawicel: " + s
	}
	return fmt.Sprintf("lawicel: parse error %d", uint8(k))
}

// ParseError describes a rejected byte run.
type ParseError struct {
	Kind   ParseErrorKind
	Offset int // byte offset of the offending field
	Input  []byte
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v at offset %d in %q", e.Kind, e.Offset, e.Input)
}

func (e *ParseError) Unwrap() error { return e.Kind }

func parseErr(kind ParseErrorKind, off int, in []byte) error {
	cp := make([]byte, len(in))
	copy(cp, in)
	return &ParseError{Kind: kind, Offset: off, Input: cp}
}

// HandshakeError reports which configuration step of Open failed.
type HandshakeError struct {
	Step string
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("lawicel: handshake step %q: %v", e.Step, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Is reports ErrConfiguration for every handshake failure.
func (e *HandshakeError) Is(target error) bool { return target == ErrConfiguration }
