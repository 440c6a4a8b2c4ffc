// Package schedule fires configured notifications on cron schedules by
// calling the notify tool through the A2A registry.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"woprnotify/internal/a2a"
	"woprnotify/internal/config"
	logx "woprnotify/pkg/logx"
)

const (
	DefaultTimeout = 30 * time.Second

	// Target tool for every entry.
	Server = "notify"
	Tool   = "notify"
)

// Caller invokes a registered tool.
type Caller interface {
	Call(ctx context.Context, server, tool string, args json.RawMessage) (a2a.Result, error)
}

// Entry is one scheduled notification.
type Entry struct {
	Name    string
	Spec    string
	Message string
	Level   string
	Channel *string
	Timeout time.Duration
}

// Status is a snapshot of one entry.
type Status struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Next    time.Time `json:"next"`
	Prev    time.Time `json:"prev"`
	Runs    uint64    `json:"runs"`
	LastErr string    `json:"last_err,omitempty"`
	LastOut string    `json:"last_out,omitempty"`
}

type slot struct {
	entry   Entry
	id      cron.EntryID
	runs    uint64
	lastErr string
	lastOut string
}

type Scheduler struct {
	mu sync.Mutex

	log    logx.Logger
	caller Caller
	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context
	slots  map[string]*slot
}

func New(caller Caller, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "schedule"))
	s := &Scheduler{
		log:    log,
		caller: caller,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		slots:  map[string]*slot{},
		ctx:    context.Background(),
	}
	cl := cronLogger{log: log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s
}

// FromConfig converts config entries, parsing timeouts.
func FromConfig(in []config.ScheduleConfig) ([]Entry, error) {
	out := make([]Entry, 0, len(in))
	for i, sc := range in {
		timeout, err := config.ParseDurationOrDefault(fmt.Sprintf("schedules[%d].timeout", i), sc.Timeout, DefaultTimeout)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{
			Name:    sc.Name,
			Spec:    sc.Spec,
			Message: sc.Message,
			Level:   sc.Level,
			Channel: sc.Channel,
			Timeout: timeout,
		})
	}
	return out, nil
}

// Apply replaces every entry. On error nothing changes.
func (s *Scheduler) Apply(entries []Entry) error {
	parsed := make(map[string]cron.Schedule, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Name) == "" {
			return errors.New("schedule: entry name is empty")
		}
		if _, dup := parsed[e.Name]; dup {
			return fmt.Errorf("schedule: duplicate entry %q", e.Name)
		}
		sched, err := s.parser.Parse(e.Spec)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", e.Name, err)
		}
		parsed[e.Name] = sched
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, sl := range s.slots {
		s.c.Remove(sl.id)
		delete(s.slots, name)
	}
	for _, e := range entries {
		sl := &slot{entry: e}
		sl.id = s.c.Schedule(parsed[e.Name], cron.FuncJob(func() { s.fire(sl) }))
		s.slots[e.Name] = sl
	}
	s.log.Info("schedules applied", logx.Int("count", len(entries)))
	return nil
}

// Start begins firing entries; runs use ctx as their parent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.c.Start()
}

// Stop halts the cron loop and waits for running jobs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow fires the named entry synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) (a2a.Result, error) {
	s.mu.Lock()
	sl := s.slots[name]
	s.mu.Unlock()
	if sl == nil {
		return a2a.Result{}, fmt.Errorf("schedule %q not found", name)
	}
	return s.call(ctx, sl)
}

func (s *Scheduler) fire(sl *slot) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if _, err := s.call(parent, sl); err != nil {
		s.log.Warn("scheduled notification failed", logx.String("schedule", sl.entry.Name), logx.Err(err))
	}
}

func (s *Scheduler) call(parent context.Context, sl *slot) (a2a.Result, error) {
	timeout := sl.entry.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	args, err := toolArgs(sl.entry)
	if err != nil {
		return a2a.Result{}, err
	}
	res, err := s.caller.Call(ctx, Server, Tool, args)

	s.mu.Lock()
	sl.runs++
	if err != nil {
		sl.lastErr = err.Error()
	} else {
		sl.lastErr = ""
		sl.lastOut = res.Text()
	}
	s.mu.Unlock()
	return res, err
}

type notifyArgs struct {
	Message string  `json:"message"`
	Level   *string `json:"level,omitempty"`
	Channel *string `json:"channel,omitempty"`
}

// toolArgs leaves level out when unset so the tool applies its default.
func toolArgs(e Entry) (json.RawMessage, error) {
	a := notifyArgs{Message: e.Message, Channel: e.Channel}
	if e.Level != "" {
		lvl := e.Level
		a.Level = &lvl
	}
	return json.Marshal(a)
}

// Snapshot returns entries sorted by name.
func (s *Scheduler) Snapshot() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.slots))
	for _, sl := range s.slots {
		ce := s.c.Entry(sl.id)
		out = append(out, Status{
			Name:    sl.entry.Name,
			Spec:    sl.entry.Spec,
			Next:    ce.Next,
			Prev:    ce.Prev,
			Runs:    sl.runs,
			LastErr: sl.lastErr,
			LastOut: sl.lastOut,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
