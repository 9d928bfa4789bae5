//go:build linux

package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-canusb-server/internal/can"
)

// ErrErrorFrame is returned by ReadFrame for kernel error frames, which have
// no representation on the adapter or the cannelloni side.
var ErrErrorFrame = errors.New("socketcan: error frame")

type Device struct {
	fd int
}

func Open(iface string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

// SetFilter installs a single kernel receive filter. id and mask follow the
// SocketCAN convention: a frame passes when (frame_id & mask) == (id & mask).
// The format flag is folded into both so standard and extended never mix.
func (d *Device) SetFilter(id, mask uint32, format can.Format) error {
	f := unix.CanFilter{Id: id & format.Mask(), Mask: mask&format.Mask() | can.CAN_EFF_FLAG}
	if format == can.Extended {
		f.Id |= can.CAN_EFF_FLAG
	}
	if err := unix.SetsockoptCanRawFilter(d.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, []unix.CanFilter{f}); err != nil {
		return fmt.Errorf("set CAN_RAW_FILTER: %w", err)
	}
	return nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame reads one classic CAN frame from the raw CAN socket.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [unix.CAN_MTU]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		return err
	}
	if n != unix.CAN_MTU {
		return fmt.Errorf("short read: %d", n)
	}
	return decodeRaw(buf[:], fr)
}

// WriteFrame writes one classic CAN frame to the raw CAN socket.
func (d *Device) WriteFrame(fr can.Frame) error {
	var buf [unix.CAN_MTU]byte
	encodeRaw(buf[:], fr)
	_, err := unix.Write(d.fd, buf[:])
	return err
}

// struct can_frame (linux/can.h), host byte order; little-endian assumed:
//
//	can_id  u32  [0:4]  EFF/RTR/ERR flags in the top bits
//	can_dlc u8   [4]
//	pad     3B   [5:8]
//	data    [8]  [8:16]
func decodeRaw(buf []byte, fr *can.Frame) error {
	id := binary.LittleEndian.Uint32(buf[0:4])
	if id&can.CAN_ERR_FLAG != 0 {
		return ErrErrorFrame
	}
	dlc := buf[4]
	if dlc > can.MaxDLC {
		dlc = can.MaxDLC
	}
	*fr = can.FromCANID(id, dlc, buf[8:8+int(dlc)])
	return nil
}

func encodeRaw(buf []byte, fr can.Frame) {
	binary.LittleEndian.PutUint32(buf[0:4], fr.CANID())
	buf[4] = fr.DLC()
	copy(buf[8:], fr.Data())
}
