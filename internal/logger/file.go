package logger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	LogFileName = "app.log"
	maxBackups  = 99
)

// OpenLogFile creates dir if needed and opens a fresh app.log inside it.
// An existing app.log is kept as app_backup_NN.log using the lowest free
// number.
func OpenLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	path := filepath.Join(dir, LogFileName)
	if _, err := os.Stat(path); err == nil {
		backup, err := nextBackupPath(dir)
		if err != nil {
			return nil, err
		}
		if err := os.Rename(path, backup); err != nil {
			return nil, fmt.Errorf("rotating log file: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("checking log file: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

func nextBackupPath(dir string) (string, error) {
	for i := 1; i <= maxBackups; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("app_backup_%02d.log", i))
		if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("too many log backups in %s", dir)
}
