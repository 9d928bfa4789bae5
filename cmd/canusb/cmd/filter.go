package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-canusb-server/internal/can"
	"github.com/kstaniek/go-canusb-server/internal/lawicel"
)

var (
	filterExtended bool
	filterMatch    bool
)

func init() {
	filterCmd.Flags().BoolVarP(&filterExtended, "extended", "x", false, "extended identifiers")
	filterCmd.Flags().BoolVar(&filterMatch, "match", false, "mask bits set to 1 must match (SocketCAN style)")
	rootCmd.AddCommand(filterCmd)
}

var filterCmd = &cobra.Command{
	Use:   "filter <id> <mask>",
	Short: "Compute acceptance code and mask registers",
	Long: `Compute the M and m register values admitting <id>. By default <mask> is a
don't-care mask (1 = ignore bit), as the adapter uses it; with --match it is a
SocketCAN style match mask.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 16, 32)
		if err != nil {
			return fmt.Errorf("bad id %q: %w", args[0], err)
		}
		mask, err := strconv.ParseUint(args[1], 16, 32)
		if err != nil {
			return fmt.Errorf("bad mask %q: %w", args[1], err)
		}
		format := can.Standard
		if filterExtended {
			format = can.Extended
		}
		if uint32(id)&^format.Mask() != 0 {
			return fmt.Errorf("id %s out of %s range", args[0], format)
		}
		newFilter := lawicel.NewFilter
		if filterMatch {
			newFilter = lawicel.NewMatchFilter
		}
		code, m := newFilter(uint32(id), uint32(mask), format)
		fmt.Fprint(cmd.OutOrStdout(), formatRegisters(code, m))
		return nil
	},
}

func formatRegisters(code lawicel.CodeRegister, mask lawicel.MaskRegister) string {
	return fmt.Sprintf("code: %08X\nmask: %08X\ncommands: M%08X\\r m%08X\\r\n",
		uint32(code), uint32(mask), uint32(code), uint32(mask))
}
