package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bdubertret/quidx/internal/config"
	"github.com/bdubertret/quidx/internal/inspect"
	"github.com/bdubertret/quidx/internal/metrics"
	"github.com/bdubertret/quidx/internal/qindex"
	"github.com/bdubertret/quidx/internal/walker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Recover every queue under --data-dir and serve a read-only inspection API",
	Args:  cobra.NoArgs,
	RunE: func(c *cobra.Command, args []string) error {
		cfg := config.Default()
		if configFlag != "" {
			loaded, err := config.Load(configFlag)
			if err != nil {
				return err
			}
			cfg = loaded
		} else {
			cfg.DataDir = dataDirFlag
		}

		terms, store, err := openCollaborators(cfg.DataDir)
		if err != nil {
			return err
		}

		reg := metrics.New()

		recoverStart := time.Now()
		dirs, err := walker.DiscoverQueueDirs(cfg.DataDir, true)
		if err != nil {
			return fmt.Errorf("discover queue dirs: %w", err)
		}
		results, _, err := walker.Walk(dirs, cfg.WalkerWorkers, store, terms)
		if err != nil {
			return fmt.Errorf("walk: %w", err)
		}
		reg.ObserveRecover(time.Since(recoverStart))

		mgr := newManager()
		for _, r := range results {
			if r.Err != nil {
				fmt.Fprintf(os.Stderr, "skipping %s: %v\n", r.Dir.Path, r.Err)
				continue
			}
			r.Index.SetMetrics(reg)
			r.Index.SetMaxJournalEntries(cfg.MaxJournalEntries)
			mgr.add(filepath.Base(r.Dir.Path), r.Index)
		}

		reg.Segments.Set(float64(mgr.segmentCount()))

		srv := inspect.NewServer(mgr, reg, inspect.Config{Addr: cfg.InspectAddr})
		if err := srv.Start(); err != nil {
			return err
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		return srv.Stop()
	},
}

// manager is the in-process implementation of inspect.Manager: every
// queue index the start-up walk recovered, keyed by directory name.
type manager struct {
	indexes map[string]*qindex.QueueIndex
}

func newManager() *manager {
	return &manager{indexes: make(map[string]*qindex.QueueIndex)}
}

func (m *manager) add(dirName string, idx *qindex.QueueIndex) {
	m.indexes[dirName] = idx
}

func (m *manager) Index(dirName string) (*qindex.QueueIndex, bool) {
	idx, ok := m.indexes[dirName]
	return idx, ok
}

func (m *manager) DirNames() []string {
	out := make([]string, 0, len(m.indexes))
	for name := range m.indexes {
		out = append(out, name)
	}
	return out
}

func (m *manager) segmentCount() int {
	total := 0
	for _, idx := range m.indexes {
		total += idx.Stats().SegmentCount
	}
	return total
}
