package lawicel

import "fmt"

// SerialNumber is the 4 character adapter serial number reported by N.
type SerialNumber [4]byte

// NewSerialNumber builds a serial number from exactly 4 bytes.
func NewSerialNumber(s string) (SerialNumber, error) {
	var sn SerialNumber
	if len(s) != len(sn) {
		return sn, fmt.Errorf("lawicel: serial number %q: want %d characters", s, len(sn))
	}
	copy(sn[:], s)
	return sn, nil
}

func (s SerialNumber) String() string { return string(s[:]) }

// ParseSerialNumber decodes the N response: 'N', 4 ASCII characters, CR.
func ParseSerialNumber(in []byte) (SerialNumber, error) {
	for i, c := range in {
		if c > 0x7F {
			return SerialNumber{}, parseErr(ErrEncoding, i, in)
		}
	}
	if len(in) != 6 {
		return SerialNumber{}, parseErr(ErrInvalidSize, len(in), in)
	}
	if in[0] != 'N' {
		return SerialNumber{}, parseErr(ErrStartMarker, 0, in)
	}
	if in[5] != CR {
		return SerialNumber{}, parseErr(ErrTermination, 5, in)
	}
	var sn SerialNumber
	copy(sn[:], in[1:5])
	return sn, nil
}
