package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aybkose/questline/internal/config"
	"github.com/aybkose/questline/internal/dispatch"
	"github.com/aybkose/questline/internal/engine"
	"github.com/aybkose/questline/internal/platform"
	"github.com/aybkose/questline/internal/task"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario>",
	Short: "Replay a scenario against a throwaway engine",
	Long: `Replay a YAML scenario file against a fresh engine backed by a
temporary database and a scripted platform client. Lifecycle events are
printed as they fire, so scenarios double as executable documentation of
task behavior.

A scenario is a list of steps:

  start: 2026-03-01T12:00:00Z
  steps:
    - assign: {user: 42, type: keyword, params: {keyword: merhaba}}
    - event: {kind: message, user: 42, text: "merhaba dostlarim"}
    - member: {chat: -100, user: 42, present: true}
    - advance: 2h
    - sweep: true
    - complete: {user: 42, task: 0, evidence: "https://example.com/story"}
    - approve: {review: 0, admin: 1}`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
}

type simScenario struct {
	Start string    `mapstructure:"start"` // RFC 3339, defaults to now
	Steps []simStep `mapstructure:"steps"`

	start time.Time
}

// simStep is one scenario action; exactly one field should be set.
type simStep struct {
	Assign   *simAssign       `mapstructure:"assign"`
	Event    *simEvent        `mapstructure:"event"`
	Member   *simMember       `mapstructure:"member"`
	Reaction *simReaction     `mapstructure:"reaction"`
	Admins   *simChatUsers    `mapstructure:"admins"`
	Boosters *simChatUsers    `mapstructure:"boosters"`
	Profile  *simProfile      `mapstructure:"profile"`
	Advance  string           `mapstructure:"advance"`
	Sweep    bool             `mapstructure:"sweep"`
	Complete *simComplete     `mapstructure:"complete"`
	Approve  *simReviewAction `mapstructure:"approve"`
	Reject   *simReviewAction `mapstructure:"reject"`
}

type simAssign struct {
	User   int64          `mapstructure:"user"`
	Type   string         `mapstructure:"type"`
	Params map[string]any `mapstructure:"params"`
}

type simEvent struct {
	Kind    string `mapstructure:"kind"`
	User    int64  `mapstructure:"user"`
	Chat    int64  `mapstructure:"chat"`
	Message int64  `mapstructure:"message"`
	Text    string `mapstructure:"text"`
	Emoji   string `mapstructure:"emoji"`
	Token   string `mapstructure:"token"`
	Invite  string `mapstructure:"invite"`
}

type simMember struct {
	Chat    int64 `mapstructure:"chat"`
	User    int64 `mapstructure:"user"`
	Present bool  `mapstructure:"present"`
}

type simReaction struct {
	Chat    int64   `mapstructure:"chat"`
	Message int64   `mapstructure:"message"`
	Emoji   string  `mapstructure:"emoji"`
	Users   []int64 `mapstructure:"users"`
}

type simChatUsers struct {
	Chat  int64   `mapstructure:"chat"`
	Users []int64 `mapstructure:"users"`
}

type simProfile struct {
	User     int64  `mapstructure:"user"`
	Username string `mapstructure:"username"`
	Bio      string `mapstructure:"bio"`
}

type simComplete struct {
	User     int64  `mapstructure:"user"`
	Task     int    `mapstructure:"task"` // index into assignments so far
	Evidence string `mapstructure:"evidence"`
}

type simReviewAction struct {
	Review int    `mapstructure:"review"` // index into the pending queue
	Admin  int64  `mapstructure:"admin"`
	Reason string `mapstructure:"reason"`
}

func loadScenario(path string) (*simScenario, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	var sc simScenario
	if err := v.Unmarshal(&sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario has no steps")
	}
	if sc.Start == "" {
		sc.start = time.Now().UTC().Truncate(time.Second)
	} else {
		start, err := time.Parse(time.RFC3339, sc.Start)
		if err != nil {
			return nil, fmt.Errorf("bad start time %q: %w", sc.Start, err)
		}
		sc.start = start
	}
	return &sc, nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	sc, err := loadScenario(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "questline-sim-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	sim, err := newSimulation(cfg, filepath.Join(dir, "sim.db"), sc.start)
	if err != nil {
		return err
	}
	defer sim.close()

	for i, step := range sc.Steps {
		if err := sim.apply(cmd.Context(), step); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	fmt.Printf("\nscenario done at %s, %d live task(s) remain\n",
		sim.now().Format(time.RFC3339), sim.eng.LiveCount())
	return nil
}

// simulation is a self-contained engine with a scripted clock and
// platform. Events are dispatched synchronously so each step's effects
// are observed before the next.
type simulation struct {
	eng    *engine.Engine
	bus    *dispatch.Bus
	client *platform.Fake
	close  func()

	mu    sync.Mutex
	clock time.Time
	tasks []string // task ids in assignment order
}

func newSimulation(cfg *config.Config, dbPath string, start time.Time) (*simulation, error) {
	st, err := openStoreAt(dbPath)
	if err != nil {
		return nil, err
	}

	sim := &simulation{
		bus:    dispatch.New(cfg.Engine.QueueSize),
		client: platform.NewFake(),
		clock:  start,
		close:  func() { _ = st.Close() },
	}
	sim.eng = engine.New(st, sim.bus, sim.client, cfg, engine.WithClock(sim.now))
	sim.eng.OnEvent(func(ev engine.Event) {
		fmt.Printf("%s  %-16s user=%d task=%s type=%s %s\n",
			ev.At.Format(time.RFC3339), ev.Kind, ev.UserID, ev.TaskID, ev.Type,
			formatDetail(ev.Detail))
	})
	return sim, nil
}

func (s *simulation) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

func (s *simulation) advance(d time.Duration) {
	s.mu.Lock()
	s.clock = s.clock.Add(d)
	s.mu.Unlock()
}

func (s *simulation) taskID(index int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.tasks) {
		return "", fmt.Errorf("task index %d out of range (%d assigned)", index, len(s.tasks))
	}
	return s.tasks[index], nil
}

func (s *simulation) apply(ctx context.Context, step simStep) error {
	switch {
	case step.Assign != nil:
		a := step.Assign
		inst, err := s.eng.Assign(a.User, task.TypeKey(a.Type), task.Params(a.Params))
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.tasks = append(s.tasks, inst.TaskID)
		s.mu.Unlock()
		return nil

	case step.Event != nil:
		ev := step.Event
		s.bus.Dispatch(platform.Event{
			Kind:       platform.EventKind(ev.Kind),
			UserID:     ev.User,
			ChatID:     ev.Chat,
			MessageID:  ev.Message,
			Text:       ev.Text,
			Emoji:      ev.Emoji,
			Token:      ev.Token,
			InviteCode: ev.Invite,
			At:         s.now(),
		})
		return nil

	case step.Member != nil:
		s.client.SetMember(step.Member.Chat, step.Member.User, step.Member.Present)
		return nil

	case step.Reaction != nil:
		r := step.Reaction
		s.client.SetReaction(r.Chat, r.Message, r.Emoji, r.Users...)
		return nil

	case step.Admins != nil:
		s.client.SetAdmins(step.Admins.Chat, step.Admins.Users...)
		return nil

	case step.Boosters != nil:
		s.client.SetBoosters(step.Boosters.Chat, step.Boosters.Users...)
		return nil

	case step.Profile != nil:
		p := step.Profile
		s.client.SetProfile(p.User, platform.Profile{Username: p.Username, Bio: p.Bio})
		return nil

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("bad advance duration %q: %w", step.Advance, err)
		}
		s.advance(d)
		return nil

	case step.Sweep:
		s.eng.Sweep(ctx, s.now())
		return nil

	case step.Complete != nil:
		c := step.Complete
		id, err := s.taskID(c.Task)
		if err != nil {
			return err
		}
		return s.eng.SubmitEvidence(c.User, id, c.Evidence)

	case step.Approve != nil:
		return s.resolveReview(step.Approve, true)

	case step.Reject != nil:
		return s.resolveReview(step.Reject, false)
	}
	return fmt.Errorf("empty step")
}

func (s *simulation) resolveReview(action *simReviewAction, approve bool) error {
	reviews, err := s.eng.PendingReviews()
	if err != nil {
		return err
	}
	if action.Review < 0 || action.Review >= len(reviews) {
		return fmt.Errorf("review index %d out of range (%d pending)", action.Review, len(reviews))
	}
	return s.eng.AdminReview(reviews[action.Review].ReviewID, approve, action.Reason, action.Admin)
}
