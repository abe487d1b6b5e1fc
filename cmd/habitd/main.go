package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"habitkeeper/internal/app"
	"habitkeeper/internal/config"
)

var (
	configPath = flag.String("c", "", "Config file; searched in ., ~/.config/habitkeeper and /etc/habitkeeper when empty")
	logPath    = flag.String("log", "", "Append logs to this file instead of stderr")
)

// logTo points the standard logger at path, or at stderr when path is
// empty. The returned func closes the log file.
func logTo(path string) (func(), error) {
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	if path == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return func() {}, fmt.Errorf("create log directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return func() {}, fmt.Errorf("open log file %s: %w", path, err)
	}
	log.SetOutput(f)
	return func() { _ = f.Close() }, nil
}

func main() {
	flag.Parse()

	closeLog, err := logTo(*logPath)
	if err != nil {
		log.Printf("Warning: %v; logging to stderr", err)
	}
	defer closeLog()

	// Preferences are reloaded whenever the config file changes.
	cfg, prefs, err := config.Watch(*configPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	application, err := app.NewApp(cfg, prefs)
	if err != nil {
		log.Fatalf("FATAL: Failed to create application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("FATAL: Application exited with error: %v", err)
	}

	log.Println("habitkeeper finished successfully.")
}
