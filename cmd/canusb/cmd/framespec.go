package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/kstaniek/go-canusb-server/internal/can"
)

// parseFrameSpec parses <id>#<hex data> or <id>#R[<dlc>]. Identifiers
// longer than three hex digits, or any with extended set, are extended.
func parseFrameSpec(spec string, extended bool) (can.Frame, error) {
	idPart, rest, ok := strings.Cut(spec, "#")
	if !ok || idPart == "" {
		return can.Frame{}, fmt.Errorf("frame %q: want <id>#<data> or <id>#R<dlc>", spec)
	}
	id, err := strconv.ParseUint(idPart, 16, 32)
	if err != nil {
		return can.Frame{}, fmt.Errorf("frame %q: bad id: %w", spec, err)
	}
	format := can.Standard
	if extended || len(idPart) > 3 {
		format = can.Extended
	}
	if uint32(id)&^format.Mask() != 0 {
		return can.Frame{}, fmt.Errorf("frame %q: id out of %s range", spec, format)
	}
	if r, ok := strings.CutPrefix(strings.ToUpper(rest), "R"); ok {
		dlc := uint64(0)
		if r != "" {
			if dlc, err = strconv.ParseUint(r, 10, 8); err != nil || dlc > can.MaxDLC {
				return can.Frame{}, fmt.Errorf("frame %q: bad remote dlc %q", spec, r)
			}
		}
		return can.NewRemoteFrame(uint32(id), format, uint8(dlc)), nil
	}
	data, err := hex.DecodeString(strings.ReplaceAll(rest, ".", ""))
	if err != nil {
		return can.Frame{}, fmt.Errorf("frame %q: bad data: %w", spec, err)
	}
	if len(data) > can.MaxDLC {
		return can.Frame{}, fmt.Errorf("frame %q: %d data bytes, max %d", spec, len(data), can.MaxDLC)
	}
	return can.NewDataFrame(uint32(id), format, data), nil
}
