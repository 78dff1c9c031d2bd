package qindex

import "os"

// writeRaw writes buf verbatim to path, for tests constructing
// deliberately malformed on-disk files.
func writeRaw(path string, buf []byte) error {
	return os.WriteFile(path, buf, 0o644)
}
