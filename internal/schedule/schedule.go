// Package schedule runs the relay's periodic jobs on cron specs.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "inquiryrelay/pkg/logx"
)

// SecondOptional allows both 5-field and 6-field (with seconds) specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec reports whether spec parses.
func ValidateSpec(spec string) error {
	if _, err := parser.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// Job is a named periodic task. Timeout bounds one run; 0 means no bound.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// EntryInfo is a point-in-time view of a registered job.
type EntryInfo struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Next    time.Time `json:"next"`
	Prev    time.Time `json:"prev"`
	Runs    uint64    `json:"runs"`
	LastErr string    `json:"last_err,omitempty"`
}

type entry struct {
	job     Job
	id      cron.EntryID
	runs    uint64
	lastErr string
}

// Scheduler wraps a cron runner. Overlapping runs of the same job are
// skipped and panics are recovered.
type Scheduler struct {
	log logx.Logger
	c   *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]*entry
	started bool
}

func New(loc *time.Location, log logx.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cl := cronLogger{log: log}
	return &Scheduler{
		log: log,
		c: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:     context.Background(),
		entries: map[string]*entry{},
	}
}

// Add registers job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	if job.Name == "" || job.Run == nil {
		return errors.New("schedule: job needs a name and a run func")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[job.Name]; dup {
		return fmt.Errorf("schedule: duplicate job %q", job.Name)
	}
	e := &entry{job: job}
	id, err := s.c.AddFunc(strings.TrimSpace(job.Spec), func() { s.run(e) })
	if err != nil {
		return fmt.Errorf("schedule: job %q: %w", job.Name, err)
	}
	e.id = id
	s.entries[job.Name] = e
	s.log.Debug("job registered", logx.String("job", job.Name), logx.String("spec", job.Spec))
	return nil
}

func (s *Scheduler) run(e *entry) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if e.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := e.job.Run(ctx)

	s.mu.Lock()
	e.runs++
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("job failed", logx.String("job", e.job.Name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("job done", logx.String("job", e.job.Name), logx.Duration("took", time.Since(start)))
}

// Start begins firing jobs. Runs receive a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx = ctx
	s.c.Start()
}

// Stop stops firing and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return nil
	}
	done := s.c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs a registered job synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("schedule: unknown job %q", name)
	}
	s.run(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.lastErr != "" {
		return errors.New(e.lastErr)
	}
	return nil
}

func (s *Scheduler) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		ce := s.c.Entry(e.id)
		out = append(out, EntryInfo{
			Name:    e.job.Name,
			Spec:    e.job.Spec,
			Next:    ce.Next,
			Prev:    ce.Prev,
			Runs:    e.runs,
			LastErr: e.lastErr,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger adapts logx to cron.Logger. Info goes to debug; cron's info
// output is per-tick noise.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
