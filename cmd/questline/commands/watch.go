package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/aybkose/questline/internal/dispatch"
	"github.com/aybkose/questline/internal/engine"
	"github.com/aybkose/questline/internal/logging"
	"github.com/aybkose/questline/internal/scheduler"
	"github.com/aybkose/questline/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the engine with a live dashboard",
	Long: `Run the verification engine in the foreground with a live TUI showing
lifecycle events as they happen.

Without a terminal the dashboard is skipped and events are printed as
plain lines instead.`,
	RunE: runWatch,
}

// isInteractive reports whether stdout is a terminal. Override in tests.
var isInteractive = func() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := initLogging(cfg); err != nil {
		return err
	}
	defer logging.Get().Close()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := dispatch.New(cfg.Engine.QueueSize)
	eng := engine.New(st, bus, newPlatformClient(cfg), cfg)

	if _, err := eng.Recover(); err != nil {
		return fmt.Errorf("recovering instances: %w", err)
	}
	go bus.Run(ctx)

	sched, err := scheduler.NewFromConfig(scheduler.Config{
		Cron:     cfg.Engine.SweepCron,
		Interval: cfg.Engine.SweepInterval,
	})
	if err != nil {
		return fmt.Errorf("building sweep schedule: %w", err)
	}
	sched.AddJob(func(jctx context.Context) error {
		eng.Sweep(jctx, time.Now())
		return nil
	})
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
			logging.Component("watch").Err(err).Msg("stopping scheduler")
		}
	}()

	if !isInteractive() {
		return watchPlain(ctx, eng)
	}
	return watchTUI(ctx, cancel, eng)
}

// watchPlain prints engine events as lines until the context is cancelled.
func watchPlain(ctx context.Context, eng *engine.Engine) error {
	eng.OnEvent(func(ev engine.Event) {
		fmt.Printf("%s  %-16s user=%d task=%s type=%s %s\n",
			ev.At.Format("15:04:05"), ev.Kind, ev.UserID, ev.TaskID, ev.Type,
			formatDetail(ev.Detail))
	})
	fmt.Println("watching engine events (ctrl+c to stop)")
	<-ctx.Done()
	return nil
}

func watchTUI(ctx context.Context, cancel context.CancelFunc, eng *engine.Engine) error {
	model := ui.New()
	model.SetLiveCount(eng.LiveCount())

	program, err := model.RunWithProgram()
	if err != nil {
		return err
	}
	go func() {
		program.Wait()
		cancel()
	}()

	eng.OnEvent(func(ev engine.Event) {
		program.Send(ui.EventMsg{
			Time:   ev.At,
			Kind:   string(ev.Kind),
			UserID: ev.UserID,
			TaskID: ev.TaskID,
			Type:   string(ev.Type),
			Detail: formatDetail(ev.Detail),
		})
		program.Send(ui.LiveCountMsg(eng.LiveCount()))
	})

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			program.Quit()
			program.Wait()
			return nil
		case <-ticker.C:
			program.Send(ui.LiveCountMsg(eng.LiveCount()))
		}
	}
}

// formatDetail renders event detail as sorted key=value pairs.
func formatDetail(detail map[string]any) string {
	if len(detail) == 0 {
		return ""
	}
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, detail[k]))
	}
	return strings.Join(parts, " ")
}
