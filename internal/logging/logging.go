package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logFileName = "crm-sla.log"

// Init sets up the global logger: a console writer on stderr and a rotating
// file under LOGS_FOLDER (or DATA_PATH/logs, or logs next to the binary).
// Stdout is left alone because the MCP transport owns it.
func Init(verbose bool) {
	// Runs before config.Load, so pick up the binary-relative .env here.
	exeDir := ""
	if exePath, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exePath)
		_ = godotenv.Load(filepath.Join(exeDir, ".env"))
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	fd := os.Stderr.Fd()
	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    !(isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)),
	}

	logDir := Dir(exeDir)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create log directory %q: %v\n", logDir, err)
		os.Exit(1)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, logFileName),
		MaxSize:    16, // megabytes
		MaxBackups: 32,
		MaxAge:     365, // days
		Compress:   true,
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(io.Writer(console), file)).
		With().
		Timestamp().
		Logger()
}

// Dir resolves the log directory from the environment.
func Dir(exeDir string) string {
	if dir := os.Getenv("LOGS_FOLDER"); dir != "" {
		return dir
	}
	if data := os.Getenv("DATA_PATH"); data != "" {
		return filepath.Join(data, "logs")
	}
	if exeDir != "" {
		return filepath.Join(exeDir, "logs")
	}
	return "logs"
}
