package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"roadie/internal/config"
	"roadie/internal/daemon"
	"roadie/internal/history"
	"roadie/internal/ipc"
	"roadie/internal/logging"
	"roadie/internal/notify"
	"roadie/internal/unit"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides the configured log level when non-empty.
	LogLevel string
	// SocketPath overrides the configured IPC socket location when non-empty.
	SocketPath string
}

// Run starts the roadied runtime loop: it supervises every installed unit
// and serves IPC until SIGINT, SIGTERM, or a Shutdown RPC arrives. When
// roadied itself runs under a notify-aware supervisor it reports its own
// readiness the same way its units do.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, stop := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "*.log", Exclude: []string{cfg.DaemonLogPath()}},
		logging.RetentionTarget{Dir: cfg.UnitLogDir(), Pattern: "*.log"},
	)

	pidPath := cfg.PIDFilePath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	hist, err := history.Open(cfg.HistoryDBPath())
	if err != nil {
		logger.Error("open history store", logging.Error(err))
		return err
	}

	units := unit.NewStore(cfg.Paths.UnitsDir)
	d, err := daemon.New(cfg, units, hist, logger)
	if err != nil {
		hist.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := cfg.SocketPath()
	if override := strings.TrimSpace(opts.SocketPath); override != "" {
		socketPath = override
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger,
		ipc.WithShutdownFunc(stop))
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	// Clients poll the socket right after launching roadied, so a daemon
	// that cannot supervise must exit instead of lingering half-alive.
	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	if err := notify.Ready(); err != nil && !errors.Is(err, notify.ErrNoSocket) {
		logger.Warn("readiness notification failed", logging.Error(err))
	}

	<-signalCtx.Done()
	if err := notify.Stopping(); err != nil && !errors.Is(err, notify.ErrNoSocket) {
		logger.Warn("stopping notification failed", logging.Error(err))
	}
	logger.Info("roadie daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
