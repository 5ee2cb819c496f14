package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/atriumhq/atrium/internal/config"
	"github.com/atriumhq/atrium/internal/daemon"
	"github.com/atriumhq/atrium/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Atrium host",
	Long: `Start the Atrium host in the foreground.
Plugin manifests are loaded, capability grants computed, routes mounted,
and the gateway serves until SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if isRunning(pidFilePath(cfg)) {
		return fmt.Errorf("host is already running (PID file: %s)", pidFilePath(cfg))
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, daemon.Options{Modules: hostModules()})
	if err != nil {
		return fmt.Errorf("failed to initialize host: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start host: %w", err)
	}

	d.Wait()
	return nil
}

func pidFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "atrium.pid")
}

func isRunning(pidFile string) bool {
	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		return false
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		return false
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so check liveness with signal 0
	return process.Signal(syscall.Signal(0)) == nil
}
