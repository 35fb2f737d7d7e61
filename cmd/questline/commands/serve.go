package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aybkose/questline/internal/config"
	"github.com/aybkose/questline/internal/dispatch"
	"github.com/aybkose/questline/internal/engine"
	"github.com/aybkose/questline/internal/logging"
	"github.com/aybkose/questline/internal/platform"
	"github.com/aybkose/questline/internal/scheduler"
)

const pidFileName = "questline.pid"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Manage the engine daemon",
	Long:  `Start, stop, or check status of the questline engine daemon.`,
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the engine daemon",
	Long: `Start the questline engine as a background process.

The engine recovers persisted task instances, consumes the platform
event stream, and runs the expiry sweep on the configured cadence.`,
	RunE: runServeStart,
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the engine daemon",
	Long:  `Stop the running questline daemon by sending SIGTERM.`,
	RunE:  runServeStop,
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	RunE:  runServeStatus,
}

var serveForegroundFlag bool

func init() {
	serveStartCmd.Flags().BoolVarP(&serveForegroundFlag, "foreground", "f", false, "Run in foreground (don't daemonize)")
	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func pidFilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "questline", pidFileName)
}

func writePidFile() error {
	if err := os.MkdirAll(filepath.Dir(pidFilePath()), 0755); err != nil {
		return fmt.Errorf("creating pid dir: %w", err)
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(os.Getpid())), 0644)
}

func readPidFile() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; send signal 0 to check if alive
	return process.Signal(syscall.Signal(0)) == nil
}

func isDaemonRunning() (bool, int) {
	pid, err := readPidFile()
	if err != nil {
		return false, 0
	}
	return isProcessRunning(pid), pid
}

func runServeStart(cmd *cobra.Command, args []string) error {
	if running, pid := isDaemonRunning(); running {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if serveForegroundFlag {
		explicit, _ := cmd.Flags().GetString("config")
		return runServeLoop(cfg, explicit)
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("getting executable: %w", err)
	}

	childArgs := []string{"serve", "start", "--foreground"}
	if explicit, _ := cmd.Flags().GetString("config"); explicit != "" {
		childArgs = append(childArgs, "--config", explicit)
	}

	child := exec.Command(executable, childArgs...)
	child.Stdout = nil
	child.Stderr = nil
	child.Stdin = nil
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	fmt.Printf("daemon started (pid %d)\n", child.Process.Pid)
	return nil
}

func runServeLoop(cfg *config.Config, explicitConfig string) error {
	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logging.Component("serve")

	if err := writePidFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = os.Remove(pidFilePath()) }()

	log.Info("engine starting")

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received signal %v, shutting down", sig)
		cancel()
	}()

	bus := dispatch.New(cfg.Engine.QueueSize)
	client := newPlatformClient(cfg)
	eng := engine.New(st, bus, client, cfg)

	recovered, err := eng.Recover()
	if err != nil {
		return fmt.Errorf("recover instances: %w", err)
	}
	log.InfoCtx("instances recovered", map[string]any{"count": recovered})

	go bus.Run(ctx)

	sched, err := scheduler.NewFromConfig(scheduler.Config{
		Cron:     cfg.Engine.SweepCron,
		Interval: cfg.Engine.SweepInterval,
	})
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	sched.AddJob(func(jobCtx context.Context) error {
		eng.Sweep(jobCtx, time.Now())
		return nil
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	startDailyResetLoop(ctx, eng, log)

	// Hot reload: log level and engine knobs follow the config file.
	err = config.Watch(explicitConfig, func(fresh *config.Config) {
		if err := logging.SetLevel(fresh.Logging.Level); err != nil {
			log.Warnf("reload log level: %v", err)
		}
		eng.SetConfig(fresh)
		log.Info("config reloaded")
	}, func(err error) {
		log.Warnf("config reload failed: %v", err)
	})
	if err != nil {
		log.Debugf("config watch disabled: %v", err)
	}

	log.InfoCtx("engine running", map[string]any{
		"next_sweep": sched.NextRun().Format(time.RFC3339),
		"live":       eng.LiveCount(),
	})

	<-ctx.Done()

	if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
		log.Errorf("stopping scheduler: %v", err)
	}

	log.Info("engine stopped")
	return nil
}

// startDailyResetLoop clears daily assignment counters at each UTC
// midnight.
func startDailyResetLoop(ctx context.Context, eng *engine.Engine, log *logging.Logger) {
	go func() {
		for {
			now := time.Now().UTC()
			next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
			select {
			case <-ctx.Done():
				return
			case <-time.After(next.Sub(now)):
				if _, err := eng.ResetDailyLimits(); err != nil {
					log.Errorf("daily reset: %v", err)
				}
			}
		}
	}()
}

// newPlatformClient returns the platform boundary for the daemon. The
// wire client needs a bot token; without one the engine runs against the
// in-memory fake, which is enough for local development and simulate.
func newPlatformClient(cfg *config.Config) platform.Client {
	return platform.NewFake()
}

func runServeStop(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}

	fmt.Printf("daemon stopped (pid %d)\n", pid)
	return nil
}

func runServeStatus(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()
	if !running {
		fmt.Println("daemon is not running")
		return nil
	}
	fmt.Printf("daemon running (pid %d)\n", pid)
	return nil
}
