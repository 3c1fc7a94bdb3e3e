package probe

import (
	"os"
	"strings"

	"github.com/pkg/errors"
)

// PartialDownloadSuffixes are the names browsers give to files that are
// still being written.
var PartialDownloadSuffixes = []string{".crdownload", ".part", ".download", ".partial", ".opdownload"}

// InProgressFiles counts entries in dirs whose name ends with one of
// suffixes. Unreadable directories are an error only if none can be read.
func InProgressFiles(dirs, suffixes []string) (int, error) {
	var (
		count   int
		read    int
		lastErr error
	)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			lastErr = errors.Wrapf(err, "read %s", dir)
			continue
		}
		read++
		for _, e := range entries {
			name := strings.ToLower(e.Name())
			for _, suffix := range suffixes {
				if strings.HasSuffix(name, suffix) {
					count++
					break
				}
			}
		}
	}
	if read == 0 && lastErr != nil {
		return 0, lastErr
	}
	return count, nil
}
