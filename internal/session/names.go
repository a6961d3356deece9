package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IterName returns path if nothing exists there, otherwise the first free
// sibling named "<stem>-<n><ext>" with n counting up from 1.
func IterName(path string) string {
	if !exists(path) {
		return path
	}

	dir := filepath.Dir(path)
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for counter := 1; ; counter++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, counter, ext))
		if !exists(candidate) {
			return candidate
		}
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
