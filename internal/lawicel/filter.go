package lawicel

import "github.com/kstaniek/go-canusb-server/internal/can"

// CodeRegister is the 32-bit acceptance code (ACR0..ACR3, big-endian).
type CodeRegister uint32

// MaskRegister is the 32-bit acceptance mask (AMR0..AMR3, big-endian).
// A set bit marks the corresponding code bit as don't-care.
type MaskRegister uint32

// Accept-all register values: a zero code under an all-ones mask.
const (
	AcceptAllCode CodeRegister = 0x00000000
	AcceptAllMask MaskRegister = 0xFFFFFFFF
)

func NewCodeRegister(b0, b1, b2, b3 byte) CodeRegister {
	return CodeRegister(joinBytes(b0, b1, b2, b3))
}

func NewMaskRegister(b0, b1, b2, b3 byte) MaskRegister {
	return MaskRegister(joinBytes(b0, b1, b2, b3))
}

// Byte returns ACRi; i is 0..3.
func (r CodeRegister) Byte(i int) byte { return byteAt(uint32(r), i) }

// Byte returns AMRi; i is 0..3.
func (r MaskRegister) Byte(i int) byte { return byteAt(uint32(r), i) }

func joinBytes(b0, b1, b2, b3 byte) uint32 {
	return uint32(b0)<<24 | uint32(b1)<<16 | uint32(b2)<<8 | uint32(b3)
}

func byteAt(v uint32, i int) byte { return byte(v >> (24 - 8*uint(i&3))) }

// filterHalf places an identifier (or identifier-shaped mask) into the 16-bit
// half used by the dual-filter layout. Bits below the identifier are padding
// and come back as pad.
func filterHalf(v uint32, format can.Format) (hi, lo, pad byte) {
	if format == can.Extended {
		return byte(v >> 21), byte((v>>16)&0x1F) << 3, 0x07
	}
	return byte(v >> 3), byte(v&0x07) << 5, 0x1F
}

// NewFilter computes the register pair admitting id. mask is a don't-care
// mask over the identifier bits (1 = ignore, 0 = must match), so mask 0
// accepts exactly id. Both halves of each register carry the same filter.
func NewFilter(id, mask uint32, format can.Format) (CodeRegister, MaskRegister) {
	id &= format.Mask()
	mask &= format.Mask()
	c0, c1, pad := filterHalf(id, format)
	c1 |= pad
	m0, m1, _ := filterHalf(mask, format)
	m1 |= pad
	return NewCodeRegister(c0, c1, c0, c1), NewMaskRegister(m0, m1, m0, m1)
}

// NewMatchFilter is NewFilter for a SocketCAN style mask where a set bit
// must match; the register uses its complement.
func NewMatchFilter(id, matchMask uint32, format can.Format) (CodeRegister, MaskRegister) {
	return NewFilter(id, ^matchMask, format)
}

// Filter is an acceptance register pair evaluated in software.
type Filter struct {
	Code   CodeRegister
	Mask   MaskRegister
	Format can.Format
}

// Accepts reports whether the adapter would pass a frame with identifier id
// through the first filter half (ACR0/ACR1 under AMR0/AMR1).
func (f Filter) Accepts(id uint32) bool {
	hi, lo, _ := filterHalf(id&f.Format.Mask(), f.Format)
	want := uint16(hi)<<8 | uint16(lo)
	code := uint16(uint32(f.Code) >> 16)
	dontCare := uint16(uint32(f.Mask) >> 16)
	return (want^code)&^dontCare == 0
}
