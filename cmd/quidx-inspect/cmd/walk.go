package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdubertret/quidx/internal/walker"
)

var walkWorkersFlag int
var walkCleanFlag bool

var walkCmd = &cobra.Command{
	Use:   "walk",
	Short: "Concurrently recover every queue directory under --data-dir and report message reference counts",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, args []string) error {
		terms, store, err := openCollaborators(dataDirFlag)
		if err != nil {
			return err
		}

		dirs, err := walker.DiscoverQueueDirs(dataDirFlag, walkCleanFlag)
		if err != nil {
			return fmt.Errorf("discover queue dirs: %w", err)
		}

		results, counts, err := walker.Walk(dirs, walkWorkersFlag, store, terms)
		if err != nil {
			return fmt.Errorf("walk: %w", err)
		}

		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
				fmt.Printf("FAILED %s: %v\n", r.Dir.Path, r.Err)
			}
		}
		fmt.Printf("recovered %d/%d queue directories\n", len(results)-failed, len(results))

		for _, rc := range counts {
			fmt.Printf("  msg_id=%s refs=%d\n", hex.EncodeToString(rc.MsgID[:]), rc.Count)
		}
		return nil
	},
}

func init() {
	walkCmd.Flags().IntVar(&walkWorkersFlag, "workers", 4, "number of concurrent recovery workers")
	walkCmd.Flags().BoolVar(&walkCleanFlag, "msg-store-clean", true, "whether the message store itself reports a clean shutdown")
}
