package lawicel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-canusb-server/internal/can"
)

func TestStatusFlags(t *testing.T) {
	require.Equal(t, "ok", Status(0).String())
	require.Equal(t, "ok", Status(0x10).String(), "bit 4 is unused")

	for i, f := range StatusFlags {
		s := f.Flag
		require.True(t, s.Has(f.Flag))
		require.Equal(t, f.Name, s.String())
		for j, other := range StatusFlags {
			if i != j {
				require.False(t, s.Has(other.Flag), "%s sets %s", f.Name, other.Name)
			}
		}
	}

	s := Status(0xFF)
	require.True(t, s.ReceiveFIFOFull())
	require.True(t, s.TransmitFIFOFull())
	require.True(t, s.ErrorWarning())
	require.True(t, s.DataOverrun())
	require.True(t, s.ErrorPassive())
	require.True(t, s.ArbitrationLost())
	require.True(t, s.BusError())
	require.Equal(t, "rx_fifo_full,tx_fifo_full,error_warning,data_overrun,error_passive,arbitration_lost,bus_error", s.String())
}

func TestParseStatus(t *testing.T) {
	s, ok := parseStatus([]byte("F8C\r"))
	require.True(t, ok)
	require.Equal(t, Status(0x8C), s)
	require.True(t, s.BusError())
	require.True(t, s.ErrorWarning())
	require.True(t, s.DataOverrun())
	require.False(t, s.ErrorPassive())

	s, ok = parseStatus([]byte("Fa0\r"))
	require.True(t, ok)
	require.Equal(t, Status(0xA0), s)

	for _, bad := range []string{"", "\a", "F0\r", "F000", "G00\r", "FZZ\r", "F00\r\r"} {
		_, ok := parseStatus([]byte(bad))
		require.False(t, ok, "%q", bad)
	}
}

func TestParseSerialNumber(t *testing.T) {
	sn, err := ParseSerialNumber([]byte("NA1B2\r"))
	require.NoError(t, err)
	require.Equal(t, "A1B2", sn.String())

	want, err := NewSerialNumber("A1B2")
	require.NoError(t, err)
	require.Equal(t, want, sn)

	_, err = NewSerialNumber("A1B")
	require.Error(t, err)

	cases := map[string]ParseErrorKind{
		"NA1B\r":        ErrInvalidSize,
		"NA1B23\r":      ErrInvalidSize,
		"\a":            ErrInvalidSize,
		"XA1B2\r":       ErrStartMarker,
		"NA1B2\a":       ErrTermination,
		"N\xc3\xa9B2\r": ErrEncoding,
	}
	for in, kind := range cases {
		_, err := ParseSerialNumber([]byte(in))
		require.ErrorIs(t, err, kind, "%q", in)
	}
}

func TestFilterReferenceValues(t *testing.T) {
	code, mask := NewFilter(0x601, 0, can.Standard)
	require.Equal(t, CodeRegister(0xC03FC03F), code)
	require.Equal(t, MaskRegister(0x001F001F), mask)

	code, mask = NewFilter(0x18DA0000, 0, can.Extended)
	require.Equal(t, CodeRegister(0xC6D7C6D7), code)
	require.Equal(t, MaskRegister(0x00070007), mask)
}

func TestFilterLayout(t *testing.T) {
	code, mask := NewFilter(0x7FF, 0x007, can.Standard)
	require.Equal(t, byte(0xFF), code.Byte(0))
	require.Equal(t, byte(0xFF), code.Byte(1))
	require.Equal(t, code.Byte(0), code.Byte(2))
	require.Equal(t, code.Byte(1), code.Byte(3))
	require.Equal(t, byte(0x00), mask.Byte(0))
	require.Equal(t, byte(0xFF), mask.Byte(1))

	// identifier bits beyond the format are ignored
	c1, m1 := NewFilter(0x601, 0, can.Standard)
	c2, m2 := NewFilter(0xF601, 0xF000, can.Standard)
	require.Equal(t, c1, c2)
	require.Equal(t, m1, m2)

	require.Equal(t, CodeRegister(0xAABBCCDD), NewCodeRegister(0xAA, 0xBB, 0xCC, 0xDD))
	require.Equal(t, MaskRegister(0x12345678), NewMaskRegister(0x12, 0x34, 0x56, 0x78))
}

func TestMatchFilterComplementsMask(t *testing.T) {
	c1, m1 := NewMatchFilter(0x601, 0x7FF, can.Standard)
	c2, m2 := NewFilter(0x601, 0, can.Standard)
	require.Equal(t, c2, c1)
	require.Equal(t, m2, m1)

	c1, m1 = NewMatchFilter(0x18DA0000, can.CAN_EFF_MASK, can.Extended)
	c2, m2 = NewFilter(0x18DA0000, 0, can.Extended)
	require.Equal(t, c2, c1)
	require.Equal(t, m2, m1)
}

func TestFilterAccepts(t *testing.T) {
	code, mask := NewFilter(0x600, 0x00F, can.Standard)
	f := Filter{Code: code, Mask: mask, Format: can.Standard}
	require.True(t, f.Accepts(0x600))
	require.True(t, f.Accepts(0x60F))
	require.False(t, f.Accepts(0x610))
	require.False(t, f.Accepts(0x700))

	all := Filter{Code: AcceptAllCode, Mask: AcceptAllMask, Format: can.Standard}
	require.True(t, all.Accepts(0x123))

	code, mask = NewFilter(0x18DA0000, 0, can.Extended)
	ext := Filter{Code: code, Mask: mask, Format: can.Extended}
	// only identifier bits 28..16 take part in the extended filter
	require.True(t, ext.Accepts(0x18DA0000))
	require.True(t, ext.Accepts(0x18DAF1F1))
	require.False(t, ext.Accepts(0x18DB0000))
}

func TestBitrate(t *testing.T) {
	presets := []Bitrate{Bitrate10K, Bitrate20K, Bitrate50K, Bitrate100K, Bitrate125K, Bitrate250K, Bitrate500K, Bitrate800K, Bitrate1M}
	for i, b := range presets {
		require.Equal(t, []byte{'S', byte('0' + i), CR}, b.Command())
		require.False(t, b.IsBTR())
	}
	require.Equal(t, "s031C\r", string(BTR(0x03, 0x1C).Command()))
	require.Equal(t, "500K", Bitrate500K.String())
	require.Equal(t, "1M", Bitrate1M.String())
	require.True(t, Bitrate{}.IsZero())

	cases := map[string]Bitrate{
		"10k":      Bitrate10K,
		"125K":     Bitrate125K,
		"500000":   Bitrate500K,
		"1m":       Bitrate1M,
		"btr:031C": BTR(0x03, 0x1C),
	}
	for in, want := range cases {
		got, err := ParseBitrate(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "33k", "fast", "btr:31C", "btr:XXYY"} {
		_, err := ParseBitrate(bad)
		require.Error(t, err, bad)
	}
}
