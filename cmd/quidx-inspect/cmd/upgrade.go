package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdubertret/quidx/internal/upgrade"
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade <queue-dir>",
	Short: "Upgrade a queue index directory (journal and every segment file) to the current on-disk format",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		dir := args[0]
		v, err := upgrade.Run(dir, dir)
		if err != nil {
			return fmt.Errorf("upgrade %s: %w", dir, err)
		}
		fmt.Printf("%s now at format version %d\n", dir, v)
		return nil
	},
}
