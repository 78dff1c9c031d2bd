// Package walker implements the broker-wide, start-up-time scan across
// every queue's persistent index (§4.7): a bounded pool of workers recovers
// each queue directory concurrently and reports, for every message id it
// still references, how many queues are holding a reference to it. The
// broker's message store uses the aggregated counts to reconstruct its own
// reference counts without the index package needing to know the message
// store's internal bookkeeping.
package walker

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bdubertret/quidx/internal/qindex"
)

// RefCount pairs a message id with how many queue directories reference it.
type RefCount struct {
	MsgID [16]byte
	Count int64
}

// QueueDir describes one queue directory the walker should recover.
type QueueDir struct {
	Path                     string
	MsgStoreCleanlyRecovered bool
}

// Result is what Walk hands back for one queue directory: either the
// recovered index and its unacked messages, or an error.
type Result struct {
	Dir      QueueDir
	Index    *qindex.QueueIndex
	Messages []qindex.Message
	Err      error
}

// Walk recovers every directory in dirs concurrently, bounded to
// maxWorkers at a time, and returns both the per-queue results and the
// aggregated message-id reference counts across all of them (§4.7).
//
// Workers run in a fixed-size pool reading from a shared job channel;
// each worker's findings are sent down a single results channel (the
// "MPSC gatherer" of §4.7) so aggregation never needs its own locking.
func Walk(dirs []QueueDir, maxWorkers int, msgStore qindex.MessageStore, terms qindex.RecoveryTerms) ([]Result, []RefCount, error) {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	jobs := make(chan QueueDir)
	results := make(chan Result)

	var wg sync.WaitGroup
	for i := 0; i < maxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				results <- recoverOne(d, msgStore, terms)
			}
		}()
	}

	go func() {
		for _, d := range dirs {
			jobs <- d
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	refs := make(map[[16]byte]int64)
	out := make([]Result, 0, len(dirs))
	for r := range results {
		out = append(out, r)
		if r.Err != nil {
			continue
		}
		for _, m := range r.Messages {
			// Only a persistent, still-unacked publish obligates the
			// message store to keep the body around (§4.7) — a
			// transient message's body is never the store's to hold in
			// the first place, embedded or not.
			if !m.IsPersistent {
				continue
			}
			refs[m.MsgID]++
		}
	}

	counts := make([]RefCount, 0, len(refs))
	for id, n := range refs {
		counts = append(counts, RefCount{MsgID: id, Count: n})
	}
	return out, counts, nil
}

func recoverOne(d QueueDir, msgStore qindex.MessageStore, terms qindex.RecoveryTerms) Result {
	idx, msgs, err := qindex.Recover(d.Path, d.MsgStoreCleanlyRecovered, msgStore, terms, nil)
	return Result{Dir: d, Index: idx, Messages: msgs, Err: err}
}

// DiscoverQueueDirs lists every subdirectory of root that looks like a
// queue index directory (anything qindex.DirName could have produced),
// paired with whether msgStoreCleanlyRecovered should apply to all of them
// (the message store is broker-wide, so its clean/dirty status is uniform
// across every queue at start-up).
func DiscoverQueueDirs(root string, msgStoreCleanlyRecovered bool) ([]QueueDir, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("walker: readdir %s: %w", root, err)
	}
	var out []QueueDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		out = append(out, QueueDir{
			Path:                     filepath.Join(root, e.Name()),
			MsgStoreCleanlyRecovered: msgStoreCleanlyRecovered,
		})
	}
	return out, nil
}

// ReapOrphans deletes every directory under root that is not named in
// known (the live set of queue directory names the broker's metadata
// still references) — recovering the disk space of a queue whose
// directory survived a crash between its own deletion and the broker
// removing it from the routing table (§4.7).
func ReapOrphans(root string, known map[string]struct{}, terms qindex.RecoveryTerms) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("walker: readdir %s: %w", root, err)
	}
	var reaped []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, ok := known[e.Name()]; ok {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if err := qindex.Erase(dir, terms); err != nil {
			return reaped, fmt.Errorf("walker: reap %s: %w", dir, err)
		}
		reaped = append(reaped, dir)
	}
	return reaped, nil
}
