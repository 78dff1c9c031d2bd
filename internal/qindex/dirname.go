package qindex

import (
	"crypto/md5" //nolint:gosec // not a security use; this is a stable, collision-tolerant directory name
	"math/big"
)

// DirName derives the per-queue on-disk directory name from a queue name
// (§6): the lowercase base-36 representation of the MD5 digest of the
// canonicalized queue name. This keeps directory names filesystem-safe and
// of bounded length regardless of what characters the queue name itself
// contains.
func DirName(canonicalQueueName string) string {
	sum := md5.Sum([]byte(canonicalQueueName)) //nolint:gosec
	n := new(big.Int).SetBytes(sum[:])
	return n.Text(36)
}
