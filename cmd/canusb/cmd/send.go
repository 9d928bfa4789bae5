package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-canusb-server/internal/can"
	"github.com/kstaniek/go-canusb-server/internal/lawicel"
)

var sendExtended bool

func init() {
	sendCmd.Flags().BoolVarP(&sendExtended, "extended", "x", false, "force extended identifiers")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:     "send <id>#<data>|<id>#R<dlc> ...",
	Short:   "Transmit frames",
	Example: "  canusb send 601#4000100000000000\n  canusb send -x 18DA10F1#R8",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		frames := make([]can.Frame, 0, len(args))
		for _, a := range args {
			fr, err := parseFrameSpec(a, sendExtended)
			if err != nil {
				return err
			}
			frames = append(frames, fr)
		}
		ch, err := openAdapter(cmd.Context(), lawicel.AcceptAllCode, lawicel.AcceptAllMask)
		if err != nil {
			return err
		}
		defer ch.Close()
		for _, fr := range frames {
			if err := ch.Send(fr); err != nil {
				return fmt.Errorf("send %s: %w", fr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", fr)
		}
		return nil
	},
}
