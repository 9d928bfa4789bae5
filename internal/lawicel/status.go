package lawicel

import "strings"

// Status is the adapter status byte reported by the F command.
type Status uint8

// Status flag bits. Bit 4 is unused.
const (
	StatusRxFIFOFull      Status = 1 << 0
	StatusTxFIFOFull      Status = 1 << 1
	StatusErrorWarning    Status = 1 << 2
	StatusDataOverrun     Status = 1 << 3
	StatusErrorPassive    Status = 1 << 5
	StatusArbitrationLost Status = 1 << 6
	StatusBusError        Status = 1 << 7
)

// StatusFlags lists every defined flag with its metric/log name, in bit order.
var StatusFlags = []struct {
	Flag Status
	Name string
}{
	{StatusRxFIFOFull, "rx_fifo_full"},
	{StatusTxFIFOFull, "tx_fifo_full"},
	{StatusErrorWarning, "error_warning"},
	{StatusDataOverrun, "data_overrun"},
	{StatusErrorPassive, "error_passive"},
	{StatusArbitrationLost, "arbitration_lost"},
	{StatusBusError, "bus_error"},
}

func (s Status) Has(flag Status) bool { return s&flag != 0 }

func (s Status) ReceiveFIFOFull() bool  { return s.Has(StatusRxFIFOFull) }
func (s Status) TransmitFIFOFull() bool { return s.Has(StatusTxFIFOFull) }
func (s Status) ErrorWarning() bool     { return s.Has(StatusErrorWarning) }
func (s Status) DataOverrun() bool      { return s.Has(StatusDataOverrun) }
func (s Status) ErrorPassive() bool     { return s.Has(StatusErrorPassive) }
func (s Status) ArbitrationLost() bool  { return s.Has(StatusArbitrationLost) }
func (s Status) BusError() bool         { return s.Has(StatusBusError) }

// String lists the set flags, "ok" when none are.
func (s Status) String() string {
	var parts []string
	for _, f := range StatusFlags {
		if s.Has(f.Flag) {
			parts = append(parts, f.Name)
		}
	}
	if len(parts) == 0 {
		return "ok"
	}
	return strings.Join(parts, ",")
}

// parseStatus decodes the F response: 'F', two hex digits, CR.
func parseStatus(resp []byte) (Status, bool) {
	if len(resp) != 4 || resp[0] != 'F' || resp[3] != CR {
		return 0, false
	}
	hi, ok1 := hexNibble(resp[1])
	lo, ok2 := hexNibble(resp[2])
	if !ok1 || !ok2 {
		return 0, false
	}
	return Status(hi<<4 | lo), true
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}
