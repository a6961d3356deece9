package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BackupSuffix is appended by exiftool to the copy it keeps when editing in place.
const BackupSuffix = "_original"

// Save runs the queued edits and reports whether exiftool accepted them.
//
// An empty outputName, or the loaded file's own name, writes in place when
// overwrite is set and to a fresh "<stem>-<n><ext>" sibling otherwise. Any
// other outputName is created next to the loaded file; with overwrite an
// existing file of that name is removed first.
//
// Success is judged from exiftool's output: it must mention neither
// "unchanged" nor "errors". Without a loaded file or queued edits nothing is
// run and false is returned. Errors are reserved for timeouts, for filesystem
// operations that fail and for an outputName that is not a plain file name
// (ErrUsage, edits stay queued). The sequence is not atomic.
func (s *Session) Save(ctx context.Context, outputName string, overwrite bool) (bool, error) {
	if s.filePath == "" || !s.loaded {
		s.logger.Warn("No file loaded to be saved")
		return false, nil
	}

	if !s.Pending() {
		s.logger.Warnf("No commands to execute for %s", s.filePath)
		return false, nil
	}
	if outputName != "" && !ValidOutputName(outputName) {
		return false, fmt.Errorf("%w: output must be a file name in %s -> %s", ErrUsage, filepath.Dir(s.filePath), outputName)
	}

	var (
		result   string
		nameLog  string
		err      error
		fileName = filepath.Base(s.filePath)
	)
	if outputName == "" || outputName == fileName {
		result, err = s.saveSameName(ctx, overwrite)
		nameLog = fileName
	} else {
		result, err = s.saveNewName(ctx, overwrite, outputName)
		nameLog = outputName
	}

	// queued edits are consumed whatever the outcome
	s.commands = s.baseline()
	if err != nil {
		return false, err
	}

	s.logger.Infof("[ExiftoolMgr] Writing file: %s <in> %s", nameLog, filepath.Dir(s.filePath))
	return succeeded(result), nil
}

func (s *Session) saveSameName(ctx context.Context, overwrite bool) (string, error) {
	if !overwrite {
		target := IterName(s.filePath)
		return s.saveNewName(ctx, false, filepath.Base(target))
	}

	argv := append(s.Commands(), s.filePath)
	result, err := s.execute(ctx, argv)
	if err != nil {
		return "", err
	}

	backup := s.filePath + BackupSuffix
	if err := os.Remove(backup); err != nil {
		return result, fmt.Errorf("failed to remove backup %s: %w", backup, err)
	}

	s.logSave(overwrite, s.filePath, argv, result)
	return result, nil
}

func (s *Session) saveNewName(ctx context.Context, overwrite bool, outputName string) (string, error) {
	target := filepath.Join(filepath.Dir(s.filePath), outputName)

	if overwrite && isRegularFile(target) {
		if err := os.Remove(target); err != nil {
			return "", fmt.Errorf("failed to remove existing %s: %w", target, err)
		}
	}

	target = IterName(target)
	argv := append(s.Commands(), "-filename="+target, s.filePath)
	result, err := s.execute(ctx, argv)
	if err != nil {
		return "", err
	}

	s.logSave(overwrite, target, argv, result)
	return result, nil
}

func (s *Session) execute(ctx context.Context, argv []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.runner.Run(ctx, argv)
}

func (s *Session) logSave(overwrite bool, target string, argv []string, result string) {
	lines := strings.Split(result, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	s.logger.Infof("File saved in filepath: [overwrite=%5t] %s", overwrite, target)
	s.logger.Infof("File Commands executed: %q", argv)
	s.logger.Infof("File execution results: %s", strings.Join(lines, ", # "))
}

// ValidOutputName reports whether name is a plain file name, so that a save
// stays in the source directory.
func ValidOutputName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

// succeeded applies exiftool's textual outcome check.
func succeeded(result string) bool {
	return !strings.Contains(result, "unchanged") && !strings.Contains(result, "errors")
}
