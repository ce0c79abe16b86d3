package tools

import "os"

// writeFileAtomic writes data to path via a sibling temp file plus rename,
// so a crash mid-write never leaves a half-written file in place. Mirrors
// the pattern used by the session/plan file stores.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
