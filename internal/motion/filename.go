package motion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Motion names event files "<event>-<yyyyMMddhhmmss>.<ext>", so the part
// after the dash is 14 digits plus a four character extension.
const stampedPartLen = 18

func stampedPart(fileName string) (string, bool) {
	parts := strings.Split(filepath.Base(fileName), "-")
	if len(parts) != 2 || len(parts[1]) != stampedPartLen {
		return "", false
	}
	return parts[1], true
}

// DateFromFileName returns the yyyy-MM-dd date encoded in a movie file name.
func DateFromFileName(fileName string) (string, bool) {
	s, ok := stampedPart(fileName)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s-%s-%s", s[0:4], s[4:6], s[6:8]), true
}

// TimeFromFileName returns the hh.mm.ss time encoded in a movie file name.
func TimeFromFileName(fileName string) (string, bool) {
	s, ok := stampedPart(fileName)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s.%s.%s", s[8:10], s[10:12], s[12:14]), true
}

// EventJPEGFileName finds the snapshot Motion saved next to a movie file.
// For "01-20180412123456.avi" it returns the first "01-20180412*.jpg" in the
// same directory.
func EventJPEGFileName(movieFile string) (string, error) {
	parts := strings.Split(filepath.Base(movieFile), "-")
	if len(parts) < 2 || len(parts[1]) < 8 {
		return "", fmt.Errorf("not a motion event file name: %s", movieFile)
	}
	prefix := strings.ToLower(parts[0] + "-" + parts[1][:8])

	dir := filepath.Dir(movieFile)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", dir, err)
	}
	for _, entry := range entries {
		name := strings.ToLower(entry.Name())
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, "jpg") {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(dir, entry.Name()))
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	return "", fmt.Errorf("no snapshot found for %s", movieFile)
}
