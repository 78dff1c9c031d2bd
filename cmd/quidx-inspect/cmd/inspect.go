package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bdubertret/quidx/internal/qindex"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <queue-dir> <seq>",
	Short: "Read one message by sequence id from a recovered queue index",
	Args:  cobra.ExactArgs(2),
	RunE: func(c *cobra.Command, args []string) error {
		seq, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seq %q: %w", args[1], err)
		}

		terms, store, err := openCollaborators(dataDirFlag)
		if err != nil {
			return err
		}

		idx, _, err := qindex.Recover(args[0], true, store, terms, nil)
		if err != nil {
			return fmt.Errorf("recover %s: %w", args[0], err)
		}

		msg, err := idx.Read(qindex.SeqId(seq))
		if err != nil {
			return fmt.Errorf("read seq %d: %w", seq, err)
		}
		fmt.Printf("seq=%d msg_id=%s persistent=%t delivered=%t expiry=%d size=%d embedded=%d bytes\n",
			msg.SeqId, hex.EncodeToString(msg.MsgID[:]), msg.IsPersistent, msg.IsDelivered,
			msg.Expiry, msg.Size, len(msg.Embedded))
		return nil
	},
}
