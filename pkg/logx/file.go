package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the active log file inside the log directory.
const LogFileName = "patchmind.log"

//nolint:gochecknoglobals // single rotating log sink per process
var (
	rotator   *lumberjack.Logger
	fileOut   io.Writer
	fileMutex sync.RWMutex
)

// InitializeLogFile sends all log output to a rotating file in dir.
// keep is the number of rotated files retained. With tee, lines also go to stderr.
func InitializeLogFile(dir string, keep int, tee bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log directory %s: %w", dir, err)
	}
	if keep <= 0 {
		keep = 3
	}

	fileMutex.Lock()
	defer fileMutex.Unlock()

	if rotator != nil {
		_ = rotator.Close()
	}
	rotator = &lumberjack.Logger{
		Filename:   filepath.Join(dir, LogFileName),
		MaxSize:    15, // megabytes
		MaxBackups: keep,
		MaxAge:     28, // days
		Compress:   true,
	}
	if tee {
		fileOut = io.MultiWriter(rotator, os.Stderr)
	} else {
		fileOut = rotator
	}
	return nil
}

// CloseLogFile flushes and closes the rotating log file, restoring stderr output.
func CloseLogFile() error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if rotator == nil {
		return nil
	}
	err := rotator.Close()
	rotator = nil
	fileOut = nil
	if err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

func fileWriter() io.Writer {
	fileMutex.RLock()
	defer fileMutex.RUnlock()
	return fileOut
}
