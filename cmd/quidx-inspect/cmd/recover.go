package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdubertret/quidx/internal/qindex"
)

var recoverCleanFlag bool

var recoverCmd = &cobra.Command{
	Use:   "recover <queue-dir>",
	Short: "Recover one queue index directory and print its unacked messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		terms, store, err := openCollaborators(dataDirFlag)
		if err != nil {
			return err
		}

		idx, msgs, err := qindex.Recover(args[0], recoverCleanFlag, store, terms, nil)
		if err != nil {
			return fmt.Errorf("recover %s: %w", args[0], err)
		}
		low, high := idx.Bounds()
		fmt.Printf("recovered %s: seq range [%d,%d), %d unacked messages\n", args[0], low, high, len(msgs))
		for _, m := range msgs {
			fmt.Printf("  seq=%d msg_id=%s persistent=%t delivered=%t size=%d\n",
				m.SeqId, hex.EncodeToString(m.MsgID[:]), m.IsPersistent, m.IsDelivered, m.Size)
		}
		return nil
	},
}

func init() {
	recoverCmd.Flags().BoolVar(&recoverCleanFlag, "msg-store-clean", true,
		"whether the message store itself reports a clean shutdown")
}
