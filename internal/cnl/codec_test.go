package cnl

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/kstaniek/go-canusb-server/internal/can"
)

func mkFrame(id uint32, n int) can.Frame {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(id) + byte(i)
	}
	return can.NewDataFrame(id, can.Extended, data)
}

func TestCodecRoundTrip(t *testing.T) {
	codec := Codec{}
	in := []can.Frame{
		mkFrame(0x1E5A, 8),
		can.NewDataFrame(0x601, can.Standard, []byte{0x40, 0x00, 0x10, 0x00}),
		mkFrame(0x12345, 0),
		can.NewRemoteFrame(0x7E0, can.Standard, 8),
		can.NewRemoteFrame(0x18DA10F1, can.Extended, 3),
	}
	wire := codec.Encode(in)
	var out []can.Frame
	n, err := codec.DecodeN(bytes.NewReader(wire), 0, func(f can.Frame) { out = append(out, f) })
	if err != io.EOF {
		t.Fatalf("DecodeN: expected EOF at clean end, got %v", err)
	}
	if n != len(in) {
		t.Fatalf("decoded %d, want %d", n, len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("frame %d: got %v want %v", i, out[i], in[i])
		}
	}
}

func TestCodecWireLayout(t *testing.T) {
	codec := Codec{}
	got := codec.Encode([]can.Frame{
		can.NewDataFrame(0x123, can.Standard, []byte{1, 2}),
		can.NewRemoteFrame(0x1, can.Extended, 4),
	})
	want := []byte{
		0x00, 0x00, 0x01, 0x23, 2, 1, 2,
		0xC0, 0x00, 0x00, 0x01, 4, // EFF|RTR, no payload
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("wire mismatch\n got % X\nwant % X", got, want)
	}
}

func TestCodecEncodeToMatchesEncode(t *testing.T) {
	codec := Codec{}
	frames := []can.Frame{mkFrame(0x10, 8), mkFrame(0x11, 3)}
	var buf bytes.Buffer
	if _, err := codec.EncodeTo(&buf, frames); err != nil {
		t.Fatalf("EncodeTo error: %v", err)
	}
	if !bytes.Equal(codec.Encode(frames), buf.Bytes()) {
		t.Fatalf("Encode vs EncodeTo mismatch")
	}
}

func TestCodecDecodeErrors(t *testing.T) {
	codec := Codec{}
	bad := bytes.NewReader([]byte{0, 0, 0, 1, 0x89}) // len 9 once the FD bit is masked
	if _, err := codec.Decode(bad); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}

	trunc := bytes.NewReader([]byte{0, 0, 0, 2, 5, 1, 2, 3})
	if _, err := codec.Decode(trunc); !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("expected ErrTruncatedFrame, got %v", err)
	}

	noLen := bytes.NewReader([]byte{0, 0, 0, 2})
	if _, err := codec.Decode(noLen); !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("expected ErrTruncatedFrame for missing length, got %v", err)
	}
}

func BenchmarkCodecEncodeTo64(b *testing.B) {
	codec := Codec{}
	frames := make([]can.Frame, 64)
	for i := range frames {
		frames[i] = mkFrame(uint32(0x200+i), 8)
	}
	var buf bytes.Buffer
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		_, _ = codec.EncodeTo(&buf, frames)
	}
}

func BenchmarkCodecDecodeN64(b *testing.B) {
	codec := Codec{}
	frames := make([]can.Frame, 64)
	for i := range frames {
		frames[i] = mkFrame(uint32(0x300+i), 8)
	}
	wire := codec.Encode(frames)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = codec.DecodeN(bytes.NewReader(wire), 0, func(can.Frame) {})
	}
}
