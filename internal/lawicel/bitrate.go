package lawicel

import (
	"fmt"
	"strconv"
	"strings"
)

// Bitrate selects the CAN bus speed, either one of the adapter presets
// (S0..S8) or raw SJA1000 bus timing registers (sXXYY).
type Bitrate struct {
	preset int // 1..9 for S0..S8, -1 for BTR, 0 unset
	btr0   byte
	btr1   byte
}

var (
	Bitrate10K  = Bitrate{preset: 1}
	Bitrate20K  = Bitrate{preset: 2}
	Bitrate50K  = Bitrate{preset: 3}
	Bitrate100K = Bitrate{preset: 4}
	Bitrate125K = Bitrate{preset: 5}
	Bitrate250K = Bitrate{preset: 6}
	Bitrate500K = Bitrate{preset: 7}
	Bitrate800K = Bitrate{preset: 8}
	Bitrate1M   = Bitrate{preset: 9}
)

var presetRates = [...]int{10000, 20000, 50000, 100000, 125000, 250000, 500000, 800000, 1000000}

// BTR builds a bitrate from raw bus timing register values.
func BTR(btr0, btr1 byte) Bitrate { return Bitrate{preset: -1, btr0: btr0, btr1: btr1} }

// IsBTR reports whether b carries raw timing registers.
func (b Bitrate) IsBTR() bool { return b.preset < 0 }

// IsZero reports whether b was never set.
func (b Bitrate) IsZero() bool { return b == Bitrate{} }

// Rate returns the preset rate in bit/s, 0 for BTR or unset bitrates.
func (b Bitrate) Rate() int {
	if b.preset < 1 || b.preset > len(presetRates) {
		return 0
	}
	return presetRates[b.preset-1]
}

// Command returns the setup command including CR: "S<d>\r" or "s<hh><hh>\r".
func (b Bitrate) Command() []byte {
	if b.IsBTR() {
		return []byte(fmt.Sprintf("s%02X%02X\r", b.btr0, b.btr1))
	}
	return []byte{'S', byte('0' + b.preset - 1), CR}
}

func (b Bitrate) String() string {
	if b.IsBTR() {
		return fmt.Sprintf("btr:%02X%02X", b.btr0, b.btr1)
	}
	r := b.Rate()
	switch {
	case r == 0:
		return "unset"
	case r >= 1000000:
		return fmt.Sprintf("%dM", r/1000000)
	}
	return fmt.Sprintf("%dK", r/1000)
}

// ParseBitrate accepts preset names ("125k", "1M"), plain rates ("500000")
// and raw timing registers ("btr:031C").
func ParseBitrate(s string) (Bitrate, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if hexs, ok := strings.CutPrefix(v, "btr:"); ok {
		if len(hexs) != 4 {
			return Bitrate{}, fmt.Errorf("invalid btr bitrate %q", s)
		}
		n, err := strconv.ParseUint(hexs, 16, 16)
		if err != nil {
			return Bitrate{}, fmt.Errorf("invalid btr bitrate %q: %w", s, err)
		}
		return BTR(byte(n>>8), byte(n)), nil
	}
	mult := 1
	switch {
	case strings.HasSuffix(v, "k"):
		mult, v = 1000, strings.TrimSuffix(v, "k")
	case strings.HasSuffix(v, "m"):
		mult, v = 1000000, strings.TrimSuffix(v, "m")
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return Bitrate{}, fmt.Errorf("invalid bitrate %q", s)
	}
	for i, r := range presetRates {
		if r == n*mult {
			return Bitrate{preset: i + 1}, nil
		}
	}
	return Bitrate{}, fmt.Errorf("unsupported bitrate %q", s)
}
