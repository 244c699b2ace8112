package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zappabad/tickreplay/internal/clock"
	"github.com/zappabad/tickreplay/internal/date"
)

// DateSource supplies the simulated calendar.
type DateSource interface {
	FirstDate() (date.Date, bool)
	NextDate(after date.Date) (date.Date, bool)
}

// Handler is called on the clock goroutine after every published status.
// The next tick is not processed until it returns.
type Handler func(ctx context.Context, st clock.Status)

type cmdType int

const (
	cmdStart cmdType = iota
	cmdPause
	cmdStop
	cmdStep
	cmdRefresh
	cmdRestore
)

type command struct {
	typ      cmdType
	start    clock.StartRequest
	settings clock.Settings
	respCh   chan<- response
}

type response struct {
	status clock.Status
	err    error
}

// Service is the market clock. All state transitions and ticks are processed
// by a single goroutine, so a tick and its handler call never overlap with
// another tick or command.
type Service struct {
	cfg     Config
	dates   DateSource
	handler Handler
	logger  *zap.Logger
	now     func() time.Time

	// Owned by the run goroutine.
	state    clock.State
	current  date.Date
	settings clock.Settings
	ticks    uint64
	ticker   *time.Ticker

	status atomic.Pointer[clock.Status]

	cmdCh chan command

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewService creates a stopped clock positioned at the configured start date.
func NewService(cfg Config, dates DateSource, handler Handler, logger *zap.Logger) *Service {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if cfg.MinTickInterval <= 0 {
		cfg.MinTickInterval = DefaultConfig().MinTickInterval
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultConfig().HandlerTimeout
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = DefaultConfig().CommandBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		cfg:     cfg,
		dates:   dates,
		handler: handler,
		logger:  logger,
		now:     time.Now,
		state:   clock.StateStopped,
		cmdCh:   make(chan command, cfg.CommandBuffer),
		closed:  make(chan struct{}),
	}
	s.settings = clock.Settings{
		StartDate:    cfg.StartDate,
		TickInterval: s.clampInterval(cfg.TickInterval),
	}
	if s.settings.StartDate.IsZero() {
		s.settings.StartDate, _ = dates.FirstDate()
	}
	s.current = s.settings.StartDate
	s.status.Store(&clock.Status{
		State:       s.state,
		CurrentDate: s.current,
		Settings:    s.settings,
		Event:       clock.EventRefresh,
		At:          s.now(),
	})

	s.wg.Add(1)
	go s.run()

	return s
}

func (s *Service) run() {
	defer s.wg.Done()
	defer s.unschedule()

	for {
		var tickC <-chan time.Time
		if s.ticker != nil {
			tickC = s.ticker.C
		}

		select {
		case <-s.closed:
			return
		case cmd := <-s.cmdCh:
			s.processCommand(cmd)
		case <-tickC:
			if s.state == clock.StateRunning {
				s.advance()
			}
		}
	}
}

func (s *Service) processCommand(cmd command) {
	var resp response

	switch cmd.typ {
	case cmdStart:
		resp.status, resp.err = s.start(cmd.start)
	case cmdPause:
		resp.status = s.pause()
	case cmdStop:
		resp.status = s.stop()
	case cmdStep:
		if s.state == clock.StateStopped {
			resp.status = s.Status()
		} else {
			resp.status = s.advance()
		}
	case cmdRefresh:
		resp.status = s.publish(clock.EventRefresh)
	case cmdRestore:
		resp.status, resp.err = s.restore(cmd.settings)
	}

	if cmd.respCh != nil {
		cmd.respCh <- resp
	}
}

func (s *Service) start(req clock.StartRequest) (clock.Status, error) {
	if req.TickInterval < 0 {
		return s.Status(), fmt.Errorf("%w: %s", clock.ErrInvalidInterval, req.TickInterval)
	}
	interval := s.settings.TickInterval
	if req.TickInterval > 0 {
		interval = s.clampInterval(req.TickInterval)
	}

	switch s.state {
	case clock.StateRunning:
		if interval == s.settings.TickInterval {
			return s.Status(), nil
		}
	case clock.StatePaused:
		if !req.StartDate.IsZero() {
			s.settings.StartDate = req.StartDate
		}
	case clock.StateStopped:
		first, ok := s.dates.FirstDate()
		if !ok {
			return s.Status(), clock.ErrNoData
		}
		start := req.StartDate
		if start.IsZero() {
			start = s.settings.StartDate
		}
		if start.IsZero() {
			start = first
		}
		s.settings.StartDate = start
		s.current = start
		s.ticks = 0
	}

	s.settings.TickInterval = interval
	s.settings.Running = true
	s.state = clock.StateRunning
	s.schedule()

	s.logger.Info("clock started",
		zap.Stringer("date", s.current),
		zap.Duration("tick_interval", interval))
	return s.publish(clock.EventStarted), nil
}

func (s *Service) pause() clock.Status {
	if s.state != clock.StateRunning {
		return s.Status()
	}
	s.state = clock.StatePaused
	s.settings.Running = false
	s.unschedule()

	s.logger.Info("clock paused", zap.Stringer("date", s.current))
	return s.publish(clock.EventPaused)
}

func (s *Service) stop() clock.Status {
	if s.state == clock.StateStopped && s.current == s.settings.StartDate {
		return s.Status()
	}
	s.state = clock.StateStopped
	s.settings.Running = false
	s.unschedule()
	s.current = s.settings.StartDate
	s.ticks = 0

	s.logger.Info("clock stopped", zap.Stringer("date", s.current))
	return s.publish(clock.EventStopped)
}

// restore applies persisted settings to a stopped clock without starting it.
func (s *Service) restore(st clock.Settings) (clock.Status, error) {
	if s.state != clock.StateStopped {
		return s.Status(), fmt.Errorf("restore settings: clock is %s", s.state)
	}
	if !st.StartDate.IsZero() {
		s.settings.StartDate = st.StartDate
	}
	if st.TickInterval > 0 {
		s.settings.TickInterval = s.clampInterval(st.TickInterval)
	}
	s.current = s.settings.StartDate
	return s.publish(clock.EventRefresh), nil
}

// advance moves to the next available date, or stops at the end of data.
func (s *Service) advance() clock.Status {
	next, ok := s.dates.NextDate(s.current)
	if !ok {
		s.state = clock.StateStopped
		s.settings.Running = false
		s.unschedule()

		s.logger.Info("clock reached end of data", zap.Stringer("date", s.current))
		return s.publish(clock.EventEndOfData)
	}
	s.current = next
	s.ticks++
	return s.publish(clock.EventTick)
}

func (s *Service) publish(ev clock.Event) clock.Status {
	st := clock.Status{
		State:       s.state,
		CurrentDate: s.current,
		Settings:    s.settings,
		Ticks:       s.ticks,
		Event:       ev,
		At:          s.now(),
	}
	s.status.Store(&st)

	if s.handler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandlerTimeout)
		s.handler(ctx, st)
		cancel()
	}
	return st
}

func (s *Service) schedule() {
	if s.ticker != nil {
		s.ticker.Reset(s.settings.TickInterval)
		return
	}
	s.ticker = time.NewTicker(s.settings.TickInterval)
}

func (s *Service) unschedule() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Service) clampInterval(d time.Duration) time.Duration {
	if d < s.cfg.MinTickInterval {
		return s.cfg.MinTickInterval
	}
	return d
}

func (s *Service) do(ctx context.Context, cmd command) (clock.Status, error) {
	respCh := make(chan response, 1)
	cmd.respCh = respCh

	select {
	case <-s.closed:
		return clock.Status{}, context.Canceled
	case <-ctx.Done():
		return clock.Status{}, ctx.Err()
	case s.cmdCh <- cmd:
	}

	select {
	case <-s.closed:
		return clock.Status{}, context.Canceled
	case <-ctx.Done():
		return clock.Status{}, ctx.Err()
	case resp := <-respCh:
		return resp.status, resp.err
	}
}

// Start moves the clock to running. From stopped it begins at the start date,
// from paused it resumes at the current date. Starting a running clock only
// applies a changed tick interval.
func (s *Service) Start(ctx context.Context, req clock.StartRequest) (clock.Status, error) {
	return s.do(ctx, command{typ: cmdStart, start: req})
}

// Pause freezes the current date. It is a no-op unless the clock is running.
func (s *Service) Pause(ctx context.Context) (clock.Status, error) {
	return s.do(ctx, command{typ: cmdPause})
}

// Stop halts the clock and rewinds to the start date.
func (s *Service) Stop(ctx context.Context) (clock.Status, error) {
	return s.do(ctx, command{typ: cmdStop})
}

// Step advances a running or paused clock by one date.
func (s *Service) Step(ctx context.Context) (clock.Status, error) {
	return s.do(ctx, command{typ: cmdStep})
}

// Refresh republishes the current status through the handler.
func (s *Service) Refresh(ctx context.Context) (clock.Status, error) {
	return s.do(ctx, command{typ: cmdRefresh})
}

// Restore loads persisted settings into a stopped clock.
func (s *Service) Restore(ctx context.Context, st clock.Settings) (clock.Status, error) {
	return s.do(ctx, command{typ: cmdRestore, settings: st})
}

// Status returns the last published status without waiting on the clock goroutine.
func (s *Service) Status() clock.Status {
	return *s.status.Load()
}

// Close shuts down the clock. Pending commands are abandoned.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	s.wg.Wait()
}
