// Package scheduler runs the daily deadline sweep.
//
// Once per day at the configured local time it scans approved and in-progress
// projects and publishes deadline events: start reminders at fixed horizons,
// an ending-soon reminder the day before the end date, and overdue markers
// once a date has slipped. The scheduler only observes and publishes; it
// never mutates project state.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/digcoord/digcoord/internal/eventbus"
	"github.com/digcoord/digcoord/internal/types"
)

// StartHorizons are the day counts before the start date at which a
// start_approaching reminder fires.
var StartHorizons = []int{7, 3, 1}

// DefaultTickHour is the local hour of the daily sweep.
const DefaultTickHour = 9

// ProjectSearcher is the slice of storage the scheduler reads.
type ProjectSearcher interface {
	SearchProjects(ctx context.Context, filter types.ProjectFilter, page types.Page) (*types.PagedProjects, error)
}

// Publisher is the async event sink.
type Publisher interface {
	Publish(event *eventbus.Event)
}

// Status is a snapshot of the scheduler's loop state.
type Status struct {
	Running bool      `json:"running"`
	LastRun time.Time `json:"last_run,omitzero"`
	NextRun time.Time `json:"next_run,omitzero"`
}

// Scheduler owns the daily loop and any one-shot timers.
type Scheduler struct {
	store     ProjectSearcher
	publisher Publisher
	loc       *time.Location
	tickHour  int
	now       func() time.Time
	log       *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
	nextRun time.Time
	oneShot sync.WaitGroup
}

// New creates a scheduler ticking daily at tickHour local time in loc.
func New(store ProjectSearcher, publisher Publisher, loc *time.Location, tickHour int, log *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if tickHour < 0 || tickHour > 23 {
		tickHour = DefaultTickHour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		store:     store,
		publisher: publisher,
		loc:       loc,
		tickHour:  tickHour,
		now:       time.Now,
		log:       log,
	}
}

// Start launches the daily loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.nextRun = s.nextTick(s.now())
	go s.loop(ctx)
}

// Stop terminates the loop and waits for it and any pending one-shot timers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.oneShot.Wait()
}

// Status reports whether the loop is running and when it last/next fires.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Running: s.cancel != nil, LastRun: s.lastRun}
	if st.Running {
		st.NextRun = s.nextRun
	}
	return st
}

// TriggerNow runs one sweep immediately, outside the daily cadence.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	return s.sweep(ctx)
}

// ScheduleAt arms a one-shot sweep at the given instant. Instants in the
// past are rejected rather than fired immediately.
func (s *Scheduler) ScheduleAt(ctx context.Context, at time.Time) error {
	delay := at.Sub(s.now())
	if delay <= 0 {
		return fmt.Errorf("schedule at %s: instant is in the past", at.Format(time.RFC3339))
	}
	s.oneShot.Add(1)
	go func() {
		defer s.oneShot.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			if err := s.sweep(ctx); err != nil {
				s.log.Error("scheduled sweep failed", "error", err)
			}
		}
	}()
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	for {
		s.mu.Lock()
		next := s.nextTick(s.now())
		s.nextRun = next
		s.mu.Unlock()

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := s.sweep(ctx); err != nil {
				s.log.Error("deadline sweep failed", "error", err)
			}
		}
	}
}

// nextTick returns the next daily fire instant strictly after now.
func (s *Scheduler) nextTick(now time.Time) time.Time {
	now = now.In(s.loc)
	tick := time.Date(now.Year(), now.Month(), now.Day(), s.tickHour, 0, 0, 0, s.loc)
	if !tick.After(now) {
		tick = tick.AddDate(0, 0, 1)
	}
	return tick
}

// sweep publishes deadline events for every approved or in-progress project
// whose dates warrant one today.
func (s *Scheduler) sweep(ctx context.Context) error {
	today := types.DateOf(s.now().In(s.loc))

	projects, err := s.collect(ctx, types.StateApproved, types.StateInProgress)
	if err != nil {
		return fmt.Errorf("deadline sweep: %w", err)
	}

	published := 0
	for _, p := range projects {
		for _, event := range s.classify(p, today) {
			s.publisher.Publish(event)
			published++
		}
	}

	s.mu.Lock()
	s.lastRun = s.now()
	s.mu.Unlock()

	s.log.Info("deadline sweep complete",
		"projects", len(projects), "events", published, "date", today.String())
	return nil
}

// classify returns the deadline events a project earns on the given day.
// Overdue markers start once the date is more than a day gone: a project
// due yesterday is not overdue yet.
func (s *Scheduler) classify(p *types.Project, today types.Date) []*eventbus.Event {
	var events []*eventbus.Event
	add := func(kind eventbus.DeadlineKind, days int) {
		events = append(events, &eventbus.Event{
			Type:         eventbus.EventDeadlineApproaching,
			Project:      p,
			DeadlineKind: kind,
			DaysUntil:    days,
		})
	}

	yesterday := today.AddDays(-1)
	switch p.State {
	case types.StateApproved:
		until := today.DaysUntil(p.StartDate)
		for _, horizon := range StartHorizons {
			if until == horizon {
				add(eventbus.DeadlineStartApproaching, until)
			}
		}
		if p.StartDate.Before(yesterday) {
			add(eventbus.DeadlineOverdueStart, until)
		}
	case types.StateInProgress:
		if p.EndDate.Equal(today.AddDays(1)) {
			add(eventbus.DeadlineEndingSoon, 1)
		}
		if p.EndDate.Before(yesterday) {
			add(eventbus.DeadlineOverdueEnd, today.DaysUntil(p.EndDate))
		}
	}
	return events
}

// collect walks all pages of projects in the given states.
func (s *Scheduler) collect(ctx context.Context, states ...types.State) ([]*types.Project, error) {
	var out []*types.Project
	for page := 1; ; page++ {
		paged, err := s.store.SearchProjects(ctx,
			types.ProjectFilter{States: states},
			types.Page{Number: page, Limit: types.MaxPageLimit})
		if err != nil {
			return nil, err
		}
		out = append(out, paged.Items...)
		if len(out) >= paged.Total || len(paged.Items) == 0 {
			return out, nil
		}
	}
}
