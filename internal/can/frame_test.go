package can

import (
	"bytes"
	"testing"
)

func TestIdentifierMasking(t *testing.T) {
	if got := NewDataFrame(0x1FFF, Standard, nil).ID(); got != 0x7FF {
		t.Fatalf("standard id = 0x%X, want 0x7FF", got)
	}
	if got := NewDataFrame(0xFFFFFFFF, Extended, nil).ID(); got != 0x1FFFFFFF {
		t.Fatalf("extended id = 0x%X, want 0x1FFFFFFF", got)
	}
	if got := NewRemoteFrame(0xFFFF, Standard, 2).ID(); got != 0x7FF {
		t.Fatalf("remote standard id = 0x%X, want 0x7FF", got)
	}
}

func TestDataFrameDLCFollowsPayload(t *testing.T) {
	f := NewDataFrame(0x123, Standard, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	if f.DLC() != 8 {
		t.Fatalf("dlc = %d, want 8", f.DLC())
	}
	if !bytes.Equal(f.Data(), []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatalf("data = % X", f.Data())
	}
}

func TestRemoteFrameHasNoPayload(t *testing.T) {
	f := NewRemoteFrame(0x10, Extended, 12)
	if f.DLC() != 8 {
		t.Fatalf("dlc = %d, want clamp to 8", f.DLC())
	}
	if len(f.Data()) != 0 {
		t.Fatalf("remote frame carries payload % X", f.Data())
	}
}

func TestCANIDRoundTrip(t *testing.T) {
	frames := []Frame{
		NewDataFrame(0x123, Standard, []byte{0xAA}),
		NewDataFrame(0x18DA10F1, Extended, []byte{1, 2, 3}),
		NewRemoteFrame(0x7FF, Standard, 4),
		NewRemoteFrame(0x1ABCDE, Extended, 0),
	}
	for _, f := range frames {
		got := FromCANID(f.CANID(), f.DLC(), f.Data())
		if got != f {
			t.Fatalf("FromCANID(%s) = %s", f, got)
		}
	}
}

func TestFrameString(t *testing.T) {
	if s := NewDataFrame(0x601, Standard, []byte{0x40, 0x00}).String(); s != "601 [2] 40 00" {
		t.Fatalf("String() = %q", s)
	}
	if s := NewRemoteFrame(0x18DA0000, Extended, 3).String(); s != "18DA0000 [3] remote" {
		t.Fatalf("String() = %q", s)
	}
}
