// Package lawicel implements the Lawicel CANUSB ASCII adapter protocol: the
// frame codec, the open/configure handshake and a Channel exposing
// send/receive/status/serial-number over an abstract byte stream.
package lawicel

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"unicode/utf8"

	"github.com/kstaniek/go-canusb-server/internal/can"
)

const (
	CR  = '\r'
	BEL = 0x07

	// MaxFrameLen is the longest message on the wire: extended data frame,
	// 8 payload bytes, timestamp and terminator.
	MaxFrameLen = 31

	// MaxTimestamp is the exclusive upper bound of the adapter timestamp.
	MaxTimestamp = 60000

	timestampDigits = 4
)

// layout is one way of reading a frame message. Every message length maps
// to the layouts producing it; see layoutTable.
type layout struct {
	format    can.Format
	remote    bool
	dlc       int
	timestamp bool
}

func idDigits(f can.Format) int {
	if f == can.Extended {
		return 8
	}
	return 3
}

// size is the message length: marker, identifier, dlc digit, payload,
// optional timestamp and CR.
func (l layout) size() int {
	n := 1 + idDigits(l.format) + 1 + 1
	if !l.remote {
		n += 2 * l.dlc
	}
	if l.timestamp {
		n += timestampDigits
	}
	return n
}

func (l layout) marker() byte {
	switch {
	case l.format == can.Standard && !l.remote:
		return 't'
	case l.format == can.Standard:
		return 'r'
	case !l.remote:
		return 'T'
	default:
		return 'R'
	}
}

// layoutTable maps a message length to every layout of that length. All
// layouts sharing a length share a format: standard messages have even
// lengths and extended ones odd.
var layoutTable = buildLayoutTable()

func buildLayoutTable() map[int][]layout {
	t := make(map[int][]layout)
	for _, format := range []can.Format{can.Standard, can.Extended} {
		for _, remote := range []bool{false, true} {
			for dlc := 0; dlc <= can.MaxDLC; dlc++ {
				for _, ts := range []bool{false, true} {
					l := layout{format: format, remote: remote, dlc: dlc, timestamp: ts}
					t[l.size()] = append(t[l.size()], l)
				}
			}
		}
	}
	return t
}

// ValidLengths returns every message length Decode can accept, ascending.
func ValidLengths() []int {
	out := make([]int, 0, len(layoutTable))
	for n := range layoutTable {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// resolve picks the layout among cands matching the frame type and the dlc
// decoded from the message.
func resolve(cands []layout, remote bool, dlc int) (layout, ParseErrorKind) {
	typeSeen := false
	for _, l := range cands {
		if l.remote != remote {
			continue
		}
		typeSeen = true
		if l.dlc == dlc {
			return l, 0
		}
	}
	if !typeSeen {
		return layout{}, ErrInvalidSize
	}
	return layout{}, ErrDLC
}

func layoutOf(f can.Frame, timestamp bool) layout {
	return layout{format: f.Format(), remote: f.IsRemote(), dlc: int(f.DLC()), timestamp: timestamp}
}

// Encode renders f as the transmit command understood by the adapter:
// t/T/r/R, identifier, dlc, payload, CR.
func Encode(f can.Frame) ([]byte, error) { return encode(f, false) }

// EncodeTimestamped renders f the way an adapter in timestamp mode reports
// received frames, with the 4 hex digit timestamp before CR.
func EncodeTimestamped(f can.Frame) ([]byte, error) { return encode(f, true) }

func encode(f can.Frame, timestamp bool) ([]byte, error) {
	l := layoutOf(f, timestamp)
	if l.dlc > can.MaxDLC {
		return nil, fmt.Errorf("%w: dlc %d", ErrFormat, l.dlc)
	}
	if timestamp && f.Timestamp() >= MaxTimestamp {
		return nil, fmt.Errorf("%w: timestamp %d out of range", ErrFormat, f.Timestamp())
	}
	want := l.size()
	var b bytes.Buffer
	b.Grow(want)
	b.WriteByte(l.marker())
	if _, err := fmt.Fprintf(&b, "%0*X%X", idDigits(l.format), f.ID(), l.dlc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if !l.remote && l.dlc > 0 {
		if _, err := fmt.Fprintf(&b, "%02X", f.Data()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
	}
	if timestamp {
		if _, err := fmt.Fprintf(&b, "%04X", f.Timestamp()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
	}
	b.WriteByte(CR)
	if b.Len() != want {
		return nil, fmt.Errorf("%w: wrote %d, expected %d", ErrSizeMismatch, b.Len(), want)
	}
	return b.Bytes(), nil
}

// hexField parses in[start:end] as ASCII hex.
func hexField(in []byte, start, end int) (uint64, error) {
	if start < 0 || end > len(in) || start >= end {
		return 0, parseErr(ErrPayload, start, in)
	}
	field := in[start:end]
	if !utf8.Valid(field) {
		return 0, parseErr(ErrEncoding, start, in)
	}
	v, err := strconv.ParseUint(string(field), 16, 32)
	if err != nil {
		return 0, parseErr(ErrIntegerParse, start, in)
	}
	return v, nil
}

// Decode parses one complete message (terminator included) into a frame.
// The identifier format and the presence of a timestamp follow from the
// message length; where two layouts share a length the dlc digit decides.
func Decode(in []byte) (can.Frame, error) {
	cands, ok := layoutTable[len(in)]
	if !ok {
		return can.Frame{}, parseErr(ErrInvalidSize, len(in), in)
	}
	format := cands[0].format

	// The dlc digit sits at a fixed offset for a given format and is
	// checked before the marker.
	pos := 1 + idDigits(format)
	dlc, err := hexField(in, pos, pos+1)
	if err != nil {
		return can.Frame{}, err
	}
	if dlc > can.MaxDLC {
		return can.Frame{}, parseErr(ErrDLC, pos, in)
	}

	var remote bool
	switch in[0] {
	case layout{format: format}.marker():
	case layout{format: format, remote: true}.marker():
		remote = true
	default:
		return can.Frame{}, parseErr(ErrStartMarker, 0, in)
	}

	id, err := hexField(in, 1, pos)
	if err != nil {
		return can.Frame{}, err
	}
	l, kind := resolve(cands, remote, int(dlc))
	if kind != 0 {
		return can.Frame{}, parseErr(kind, pos, in)
	}
	pos++

	var data [can.MaxDLC]byte
	if !remote {
		for i := 0; i < l.dlc; i++ {
			v, err := hexField(in, pos, pos+2)
			if err != nil {
				return can.Frame{}, err
			}
			data[i] = byte(v)
			pos += 2
		}
	}

	var ts uint64
	if l.timestamp {
		if ts, err = hexField(in, pos, pos+timestampDigits); err != nil {
			return can.Frame{}, err
		}
		if ts >= MaxTimestamp {
			return can.Frame{}, parseErr(ErrTimestamp, pos, in)
		}
		pos += timestampDigits
	}

	if in[len(in)-1] != CR {
		return can.Frame{}, parseErr(ErrTermination, len(in)-1, in)
	}

	var f can.Frame
	if remote {
		f = can.NewRemoteFrame(uint32(id), format, uint8(l.dlc))
	} else {
		f = can.NewDataFrame(uint32(id), format, data[:l.dlc])
	}
	return f.WithTimestamp(uint16(ts)), nil
}
