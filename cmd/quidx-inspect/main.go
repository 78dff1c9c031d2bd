// Command quidx-inspect is an operator tool for a queue index data
// directory: it can recover a queue's state and print a summary, run the
// start-up walker across every queue directory, upgrade an old on-disk
// format in place, or serve a read-only HTTP inspection API over the
// whole data directory.
package main

import (
	"fmt"
	"os"

	"github.com/bdubertret/quidx/cmd/quidx-inspect/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
