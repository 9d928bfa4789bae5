package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kstaniek/go-canusb-server/internal/can"
	"github.com/kstaniek/go-canusb-server/internal/lawicel"
)

var (
	dumpCount  int
	dumpID     string
	dumpMask   string
	dumpExtend bool
)

var (
	yellow = color.New(color.FgHiYellow).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
	faint  = color.New(color.Faint).SprintfFunc()
)

func init() {
	dumpCmd.Flags().IntVarP(&dumpCount, "count", "n", 0, "stop after n frames (0 = until interrupted)")
	dumpCmd.Flags().StringVar(&dumpID, "id", "", "only frames matching this id (hex), filtered by the adapter")
	dumpCmd.Flags().StringVar(&dumpMask, "mask", "", "match mask for --id (hex, 1 = must match)")
	dumpCmd.Flags().BoolVarP(&dumpExtend, "extended", "x", false, "--id is an extended identifier")
	rootCmd.AddCommand(dumpCmd)
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print received frames",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		code, mask, err := dumpFilter()
		if err != nil {
			return err
		}
		ch, err := openAdapter(cmd.Context(), code, mask)
		if err != nil {
			return err
		}
		defer ch.Close()
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		for n := 0; dumpCount == 0 || n < dumpCount; {
			if ctx.Err() != nil {
				return nil
			}
			fr, err := ch.Recv()
			var perr *lawicel.ParseError
			switch {
			case err == nil:
				fmt.Fprintln(out, formatFrame(time.Now(), fr, ch.Timestamps()))
				n++
			case errors.Is(err, lawicel.ErrIndexing):
			case errors.Is(err, lawicel.ErrBufferOverflow), errors.As(err, &perr):
				fmt.Fprintln(cmd.ErrOrStderr(), red("malformed: %v", err))
			default:
				return err
			}
		}
		return nil
	},
}

func dumpFilter() (lawicel.CodeRegister, lawicel.MaskRegister, error) {
	if dumpID == "" {
		return lawicel.AcceptAllCode, lawicel.AcceptAllMask, nil
	}
	spec := dumpID + "#"
	fr, err := parseFrameSpec(spec, dumpExtend)
	if err != nil {
		return 0, 0, err
	}
	match := fr.Format().Mask()
	if dumpMask != "" {
		var m uint64
		if _, err := fmt.Sscanf(dumpMask, "%x", &m); err != nil {
			return 0, 0, fmt.Errorf("bad mask %q: %w", dumpMask, err)
		}
		match = uint32(m)
	}
	code, mask := lawicel.NewMatchFilter(fr.ID(), match, fr.Format())
	return code, mask, nil
}

// formatFrame renders one line: local time, identifier, dlc, payload and
// the adapter timestamp when enabled.
func formatFrame(now time.Time, fr can.Frame, withTS bool) string {
	var b strings.Builder
	b.WriteString(faint("%s ", now.Format("15:04:05.000")))
	if fr.IsExtended() {
		b.WriteString(yellow("%08X", fr.ID()))
	} else {
		b.WriteString(yellow("%8s", fmt.Sprintf("%03X", fr.ID())))
	}
	fmt.Fprintf(&b, "  [%d]", fr.DLC())
	if fr.IsRemote() {
		b.WriteString(" " + red("remote request"))
	} else {
		for _, d := range fr.Data() {
			b.WriteString(" " + green("%02X", d))
		}
	}
	if withTS {
		fmt.Fprintf(&b, "  %s", faint("ts=%d", fr.Timestamp()))
	}
	return b.String()
}
