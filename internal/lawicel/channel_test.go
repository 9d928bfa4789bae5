package lawicel

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-canusb-server/internal/can"
)

func openFake(t *testing.T, cfg Config) (*Channel, *fakeAdapter) {
	t.Helper()
	fa := newFakeAdapter()
	open, _ := openerFor(fa)
	ch, err := Open(context.Background(), cfg, open)
	require.NoError(t, err)
	fa.resetSent()
	t.Cleanup(func() { _ = ch.Close() })
	return ch, fa
}

func TestOpenHandshakeSequence(t *testing.T) {
	fa := newFakeAdapter()
	open, calls := openerFor(fa)
	ch, err := Open(context.Background(), Default("/dev/ttyUSB0", Bitrate500K), open)
	require.NoError(t, err)
	require.Equal(t, 1, *calls)
	require.Equal(t, "\r\r\rC\rZ0\rS6\rO\r", fa.sent())
	require.False(t, ch.Timestamps())
}

func TestOpenWithTimestampsBTRAndFilter(t *testing.T) {
	fa := newFakeAdapter()
	open, _ := openerFor(fa)
	code, mask := NewFilter(0x601, 0, can.Standard)
	cfg := Default("/dev/ttyUSB0", BTR(0x03, 0x1C)).WithFilter(code, mask)
	cfg.Timestamps = true
	ch, err := Open(context.Background(), cfg, open)
	require.NoError(t, err)
	require.Equal(t, "\r\r\rC\rZ1\rs031C\rMC03FC03F\rm001F001F\rO\r", fa.sent())
	require.True(t, ch.Timestamps())
}

func TestOpenZeroConfigDefaults(t *testing.T) {
	fa := newFakeAdapter()
	open, _ := openerFor(fa)
	var gotBaud int
	var gotTimeout time.Duration
	wrapped := func(path string, baud int, timeout time.Duration) (io.ReadWriteCloser, error) {
		gotBaud, gotTimeout = baud, timeout
		return open(path, baud, timeout)
	}
	_, err := Open(context.Background(), Config{Path: "/dev/ttyUSB0", Bitrate: Bitrate125K}, wrapped)
	require.NoError(t, err)
	require.Equal(t, DefaultBaud, gotBaud)
	require.Equal(t, DefaultReadTimeout, gotTimeout)
	// accept-all registers leave the adapter filter untouched
	require.NotContains(t, fa.sent(), "M")
}

func TestOpenInvalidConfig(t *testing.T) {
	open, calls := openerFor(newFakeAdapter())
	_, err := Open(context.Background(), Config{Bitrate: Bitrate1M}, open)
	require.Error(t, err)
	_, err = Open(context.Background(), Config{Path: "/dev/ttyUSB0"}, open)
	require.Error(t, err)
	cfg := Default("/dev/ttyUSB0", Bitrate1M)
	cfg.Retries = math.MaxUint
	_, err = Open(context.Background(), cfg, open)
	require.Error(t, err)
	require.Zero(t, *calls)
}

func TestOpenTransportFailure(t *testing.T) {
	failing := func(string, int, time.Duration) (io.ReadWriteCloser, error) {
		return nil, errors.New("no such device")
	}
	_, err := Open(context.Background(), Default("/dev/none", Bitrate1M), failing)
	require.ErrorIs(t, err, ErrTransportOpen)
}

func TestOpenAbortsAtFailingStep(t *testing.T) {
	cases := []struct {
		step   string
		cmd    string
		reply  string
		prefix string
	}{
		{StepFlush, "", "\a", "\r\r\r"},
		{StepBitrate, "S6", "\a", "\r\r\rC\rZ0\rS6\r"},
		{StepOpen, "O", "\a", "\r\r\rC\rZ0\rS6\rO\r"},
		{StepOpen, "O", "", "\r\r\rC\rZ0\rS6\rO\r"},
	}
	for _, tc := range cases {
		t.Run(tc.step, func(t *testing.T) {
			fa := newFakeAdapter()
			fa.respond = func(cmd string) []byte {
				if cmd == tc.cmd {
					return []byte(tc.reply)
				}
				return adapterReply(cmd)
			}
			open, _ := openerFor(fa)
			_, err := Open(context.Background(), Default("/dev/ttyUSB0", Bitrate500K), open)
			require.ErrorIs(t, err, ErrConfiguration)
			var he *HandshakeError
			require.True(t, errors.As(err, &he))
			require.Equal(t, tc.step, he.Step)
			require.Equal(t, tc.prefix, fa.sent(), "later steps must not be attempted")
			require.Equal(t, 1, fa.closeCount())
		})
	}
}

func TestOpenRetriesWholeSequence(t *testing.T) {
	bad := newFakeAdapter()
	bad.respond = func(cmd string) []byte {
		if cmd == "O" {
			return []byte{BEL}
		}
		return adapterReply(cmd)
	}
	good := newFakeAdapter()
	open, calls := openerFor(bad, bad, good)

	var logs bytes.Buffer
	cfg := Default("/dev/ttyUSB0", Bitrate250K)
	cfg.RetryDelay = time.Millisecond
	cfg.Logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	_, err := Open(context.Background(), cfg, open)
	require.ErrorIs(t, err, ErrConfiguration)
	require.Equal(t, 1, *calls, "no retries by default")
	require.NotContains(t, logs.String(), "adapter_open_retry")

	logs.Reset()
	cfg.Retries = 2
	ch, err := Open(context.Background(), cfg, open)
	require.NoError(t, err)
	require.NotNil(t, ch)
	require.Equal(t, 3, *calls)
	require.Equal(t, "\r\r\rC\rZ0\rS5\rO\r", good.sent())
	require.Equal(t, 1, strings.Count(logs.String(), "adapter_open_retry"))
}

func TestSendEcho(t *testing.T) {
	ch, fa := openFake(t, Default("/dev/ttyUSB0", Bitrate500K))

	std := can.NewDataFrame(0x601, can.Standard, []byte{0x40, 0x00, 0x10})
	require.NoError(t, ch.Send(std))
	require.Equal(t, "t6013400010\r", fa.sent())

	require.NoError(t, ch.Send(can.NewDataFrame(0x18DA10F1, can.Extended, []byte{1})))
	require.NoError(t, ch.Send(can.NewRemoteFrame(0x7E0, can.Standard, 8)))
	require.NoError(t, ch.Send(can.NewRemoteFrame(0x18DA10F1, can.Extended, 8)))
}

func TestSendEchoRejections(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		want  error
	}{
		{"bell", "\a", ErrUnsuccessfulSend},
		{"lone cr", "\r", ErrIncorrectResponse},
		{"wrong format echo", "Z\r", ErrIncorrectResponse},
		{"long reply", "t1230\r", ErrIncorrectResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch, fa := openFake(t, Default("/dev/ttyUSB0", Bitrate500K))
			fa.respond = func(string) []byte { return []byte(tc.reply) }
			err := ch.Send(can.NewDataFrame(0x123, can.Standard, nil))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSendShortWrite(t *testing.T) {
	ch, fa := openFake(t, Default("/dev/ttyUSB0", Bitrate500K))
	fa.shortWrite = true
	err := ch.Send(can.NewDataFrame(0x123, can.Standard, []byte{1, 2}))
	require.ErrorIs(t, err, ErrDataLoss)
}

func TestSendUnblockedByClose(t *testing.T) {
	ch, fa := openFake(t, Default("/dev/ttyUSB0", Bitrate500K))
	fa.respond = func(string) []byte { return nil }

	done := make(chan error, 1)
	go func() { done <- ch.Send(can.NewDataFrame(0x123, can.Standard, nil)) }()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, ch.Close())
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("send still waiting after close")
	}
}

func TestRecv(t *testing.T) {
	ch, fa := openFake(t, Default("/dev/ttyUSB0", Bitrate500K))
	fa.queue("t1232AABB\rT18DA00F10\r")

	f, err := ch.Recv()
	require.NoError(t, err)
	require.Equal(t, can.NewDataFrame(0x123, can.Standard, []byte{0xAA, 0xBB}), f)

	f, err = ch.Recv()
	require.NoError(t, err)
	require.Equal(t, can.NewDataFrame(0x18DA00F1, can.Extended, nil), f)

	_, err = ch.Recv()
	require.ErrorIs(t, err, ErrIndexing, "idle line")
}

func TestRecvTimestamps(t *testing.T) {
	cfg := Default("/dev/ttyUSB0", Bitrate500K)
	cfg.Timestamps = true
	ch, fa := openFake(t, cfg)
	fa.queue("t1230EA5F\r")
	f, err := ch.Recv()
	require.NoError(t, err)
	require.Equal(t, uint16(59999), f.Timestamp())
}

func TestRecvResynchronises(t *testing.T) {
	ch, fa := openFake(t, Default("/dev/ttyUSB0", Bitrate500K))
	fa.queue("x1\r\at1230\r")

	_, err := ch.Recv()
	require.ErrorIs(t, err, ErrInvalidSize)
	_, err = ch.Recv()
	require.ErrorIs(t, err, ErrInvalidSize)
	f, err := ch.Recv()
	require.NoError(t, err)
	require.Equal(t, uint32(0x123), f.ID())
}

func TestRecvBufferOverflow(t *testing.T) {
	ch, fa := openFake(t, Default("/dev/ttyUSB0", Bitrate500K))
	fa.queue("T12345678800000000000000000000000000000\r")
	_, err := ch.Recv()
	require.ErrorIs(t, err, ErrBufferOverflow)
}

func TestRecvTransportFailure(t *testing.T) {
	ch, fa := openFake(t, Default("/dev/ttyUSB0", Bitrate500K))
	fa.readErr = errors.New("device unplugged")
	_, err := ch.Recv()
	require.ErrorIs(t, err, ErrTransport)

	fa.readErr = io.EOF
	_, err = ch.Recv()
	require.ErrorIs(t, err, ErrIndexing, "EOF is a read timeout")
}

func TestStatus(t *testing.T) {
	ch, fa := openFake(t, Default("/dev/ttyUSB0", Bitrate500K))
	s, err := ch.Status()
	require.NoError(t, err)
	require.Equal(t, Status(0), s)
	require.Equal(t, "F\r", fa.sent())

	fa.respond = func(string) []byte { return []byte("F84\r") }
	s, err = ch.Status()
	require.NoError(t, err)
	require.True(t, s.BusError())
	require.True(t, s.ErrorWarning())

	for _, bad := range []string{"\a", "F0\r", "FXY\r", "F00F00\r", ""} {
		ch, fa := openFake(t, Default("/dev/ttyUSB0", Bitrate500K))
		fa.respond = func(string) []byte { return []byte(bad) }
		_, err := ch.Status()
		require.ErrorIs(t, err, ErrIncorrectResponse, "%q", bad)
	}
}

func TestSerialNumber(t *testing.T) {
	ch, fa := openFake(t, Default("/dev/ttyUSB0", Bitrate500K))
	sn, err := ch.SerialNumber()
	require.NoError(t, err)
	require.Equal(t, "A1B2", sn.String())
	require.Equal(t, "N\r", fa.sent())

	fa.respond = func(string) []byte { return []byte("\a") }
	_, err = ch.SerialNumber()
	require.ErrorIs(t, err, ErrInvalidSize)

	fa.respond = func(string) []byte { return []byte("NA1B2C3\r") }
	_, err = ch.SerialNumber()
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestCloseOnce(t *testing.T) {
	fa := newFakeAdapter()
	open, _ := openerFor(fa)
	ch, err := Open(context.Background(), Default("/dev/ttyUSB0", Bitrate500K), open)
	require.NoError(t, err)
	fa.resetSent()

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	require.Equal(t, "C\r", fa.sent())
	require.Equal(t, 1, fa.closeCount())

	require.ErrorIs(t, ch.Send(can.NewDataFrame(1, can.Standard, nil)), ErrClosed)
	_, err = ch.Recv()
	require.ErrorIs(t, err, ErrClosed)
	_, err = ch.Status()
	require.ErrorIs(t, err, ErrClosed)
}

func TestCloseIgnoresAdapterFailure(t *testing.T) {
	fa := newFakeAdapter()
	ch := NewChannel(fa, false, nil)
	fa.readErr = errors.New("gone")
	require.NoError(t, ch.Close())
	require.Equal(t, 1, fa.closeCount())
}
