package can

import (
	"fmt"
	"strings"
)

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxDLC is the largest data length code of a classic CAN frame.
const MaxDLC = 8

// Format is the identifier width of a frame.
type Format uint8

const (
	Standard Format = iota // 11-bit identifier
	Extended               // 29-bit identifier
)

// Mask returns the identifier mask for the format.
func (f Format) Mask() uint32 {
	if f == Extended {
		return CAN_EFF_MASK
	}
	return CAN_SFF_MASK
}

func (f Format) String() string {
	if f == Extended {
		return "extended"
	}
	return "standard"
}

// Frame is a classic CAN frame: either a data frame carrying DLC payload
// bytes or a remote frame carrying none. Frames are plain values and compare
// with ==.
//
// The identifier is masked to the width of its format at construction time;
// out-of-range bits are discarded, never rejected.
type Frame struct {
	id        uint32
	format    Format
	remote    bool
	dlc       uint8
	data      [MaxDLC]byte
	timestamp uint16
}

// NewDataFrame builds a data frame. DLC is len(data); bytes past the eighth
// are ignored.
func NewDataFrame(id uint32, format Format, data []byte) Frame {
	f := Frame{id: id & format.Mask(), format: format}
	n := copy(f.data[:], data)
	f.dlc = uint8(n)
	return f
}

// NewRemoteFrame builds a remote (RTR) frame requesting dlc bytes. A dlc
// above 8 is clamped.
func NewRemoteFrame(id uint32, format Format, dlc uint8) Frame {
	if dlc > MaxDLC {
		dlc = MaxDLC
	}
	return Frame{id: id & format.Mask(), format: format, remote: true, dlc: dlc}
}

// WithTimestamp returns a copy of f carrying the adapter timestamp ts
// (milliseconds, 0..59999 on the wire).
func (f Frame) WithTimestamp(ts uint16) Frame {
	f.timestamp = ts
	return f
}

func (f Frame) ID() uint32        { return f.id }
func (f Frame) Format() Format    { return f.format }
func (f Frame) IsExtended() bool  { return f.format == Extended }
func (f Frame) IsRemote() bool    { return f.remote }
func (f Frame) DLC() uint8        { return f.dlc }
func (f Frame) Timestamp() uint16 { return f.timestamp }

// Data returns the payload; it is empty for remote frames.
func (f Frame) Data() []byte {
	if f.remote {
		return nil
	}
	out := make([]byte, f.dlc)
	copy(out, f.data[:f.dlc])
	return out
}

// CANID returns the identifier with SocketCAN EFF/RTR flags applied.
func (f Frame) CANID() uint32 {
	id := f.id
	if f.format == Extended {
		id |= CAN_EFF_FLAG
	}
	if f.remote {
		id |= CAN_RTR_FLAG
	}
	return id
}

// FromCANID builds a frame from a SocketCAN-style can_id (flags in the upper
// bits), a length and payload. For remote frames data is ignored.
func FromCANID(canID uint32, dlc uint8, data []byte) Frame {
	format := Standard
	if canID&CAN_EFF_FLAG != 0 {
		format = Extended
	}
	if canID&CAN_RTR_FLAG != 0 {
		return NewRemoteFrame(canID, format, dlc)
	}
	if dlc > MaxDLC {
		dlc = MaxDLC
	}
	if int(dlc) < len(data) {
		data = data[:dlc]
	}
	return NewDataFrame(canID, format, data)
}

func (f Frame) String() string {
	var b strings.Builder
	if f.format == Extended {
		fmt.Fprintf(&b, "%08X", f.id)
	} else {
		fmt.Fprintf(&b, "%03X", f.id)
	}
	fmt.Fprintf(&b, " [%d]", f.dlc)
	if f.remote {
		b.WriteString(" remote")
		return b.String()
	}
	for _, v := range f.data[:f.dlc] {
		fmt.Fprintf(&b, " %02X", v)
	}
	return b.String()
}
