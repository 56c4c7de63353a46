package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

var (
	InfoLogger    *log.Logger
	ErrorLogger   *log.Logger
	WarningLogger *log.Logger
	DebugLogger   *log.Logger
)

// Loggers discard output until InitLogging runs, so library code and tests
// can log unconditionally.
func init() {
	setOutput(io.Discard, io.Discard)
}

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
)

// ParseLogLevel maps a config string to a LogLevel, defaulting to INFO.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "debug", "DEBUG":
		return DEBUG
	case "warning", "WARNING", "warn":
		return WARNING
	case "error", "ERROR":
		return ERROR
	default:
		return INFO
	}
}

type LogConfig struct {
	// LogDir is where log files go. Empty means stderr.
	LogDir     string
	MaxSize    int64 // Maximum size of log file in bytes
	MaxBackups int   // Maximum number of old log files to retain
	LogLevel   LogLevel
}

var (
	rotateMu    sync.Mutex
	currentFile *os.File
)

func InitLogging(config *LogConfig) error {
	if config == nil {
		config = &LogConfig{
			LogDir:     "logs",
			MaxSize:    10 * 1024 * 1024, // 10MB
			MaxBackups: 5,
			LogLevel:   INFO,
		}
	}

	if config.LogDir == "" {
		applyLevel(os.Stderr, config.LogLevel)
		return nil
	}

	if err := os.MkdirAll(config.LogDir, 0750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile := filepath.Join(config.LogDir, fmt.Sprintf("arkvault_%s.log", time.Now().Format("2006-01-02")))
	if err := openLogFile(config, logFile); err != nil {
		return err
	}

	if config.MaxSize > 0 {
		go monitorLogSize(config, logFile)
	}
	return nil
}

func openLogFile(config *LogConfig, logFile string) error {
	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	rotateMu.Lock()
	previous := currentFile
	currentFile = file
	rotateMu.Unlock()

	applyLevel(file, config.LogLevel)
	if previous != nil {
		previous.Close()
	}
	return nil
}

// applyLevel routes loggers below level to io.Discard.
func applyLevel(w io.Writer, level LogLevel) {
	out := func(l LogLevel) io.Writer {
		if l < level {
			return io.Discard
		}
		return w
	}
	flags := log.Ldate | log.Ltime | log.LUTC
	DebugLogger = log.New(out(DEBUG), "DEBUG: ", flags)
	InfoLogger = log.New(out(INFO), "INFO: ", flags)
	WarningLogger = log.New(out(WARNING), "WARNING: ", flags)
	ErrorLogger = log.New(out(ERROR), "ERROR: ", flags)
}

func setOutput(info, errs io.Writer) {
	flags := log.Ldate | log.Ltime | log.LUTC
	DebugLogger = log.New(info, "DEBUG: ", flags)
	InfoLogger = log.New(info, "INFO: ", flags)
	WarningLogger = log.New(errs, "WARNING: ", flags)
	ErrorLogger = log.New(errs, "ERROR: ", flags)
}

func monitorLogSize(config *LogConfig, logFile string) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		if info, err := os.Stat(logFile); err == nil && info.Size() > config.MaxSize {
			rotateLog(config, logFile)
		}
	}
}

func rotateLog(config *LogConfig, logFile string) {
	for i := config.MaxBackups - 1; i > 0; i-- {
		os.Rename(fmt.Sprintf("%s.%d", logFile, i), fmt.Sprintf("%s.%d", logFile, i+1))
	}
	os.Rename(logFile, logFile+".1")

	if err := openLogFile(config, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
	}
}

// Log formats and writes log messages with source file information
func Log(level LogLevel, format string, v ...interface{}) {
	_, file, line, _ := runtime.Caller(1)
	message := fmt.Sprintf("%s:%d: %s", filepath.Base(file), line, fmt.Sprintf(format, v...))

	switch level {
	case DEBUG:
		DebugLogger.Output(2, message)
	case INFO:
		InfoLogger.Output(2, message)
	case WARNING:
		WarningLogger.Output(2, message)
	case ERROR:
		ErrorLogger.Output(2, message)
	}
}
