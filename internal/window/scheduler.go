/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package window

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/muninn_rounds/internal/models"
)

// DefaultPreloadLead is how far before a window opens the preload fires.
const DefaultPreloadLead = 5 * time.Minute

// Config controls a Scheduler instance.
type Config struct {
	// Location is the timezone the windows are defined in. Defaults to UTC.
	Location *time.Location
	// PreloadLead overrides DefaultPreloadLead.
	PreloadLead time.Duration
	// Now substitutes the wall clock for tests and dev tooling. Production
	// callers leave it nil.
	Now func() time.Time
}

type slotListener struct {
	id int
	fn func(current, previous models.SlotType)
}

type preloadListener struct {
	id int
	fn func(next models.SlotType)
}

// Scheduler derives the current slot from the wall clock and self-arms the
// next transition and preload timers. All state is confined to the
// instance; callers construct one per window set.
type Scheduler struct {
	logger zerolog.Logger
	loc    *time.Location
	lead   time.Duration
	now    func() time.Time

	mu          sync.Mutex
	windows     []Window
	current     models.SlotType
	initialized bool
	stopped     bool

	// gen invalidates armed timers across re-arms; a fire with a stale
	// generation is discarded.
	gen             uint64
	transitionTimer *time.Timer
	preloadTimer    *time.Timer

	nextListenerID int
	changeSubs     []slotListener
	preloadSubs    []preloadListener
}

// New constructs a parked scheduler; call Init with a window set to start it.
func New(cfg Config, logger zerolog.Logger) *Scheduler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	lead := cfg.PreloadLead
	if lead <= 0 {
		lead = DefaultPreloadLead
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		logger:  logger.With().Str("component", "window_scheduler").Logger(),
		loc:     loc,
		lead:    lead,
		now:     now,
		current: models.SlotNone,
	}
}

// Init validates and installs the window set, derives the current slot from
// the wall clock, and arms the next timer pair. An invalid set returns
// ErrInvalidConfig and leaves the scheduler parked with no timers.
func (s *Scheduler) Init(windows []Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrInvalidConfig
	}

	if len(windows) == 0 {
		s.parkLocked()
		return ErrInvalidConfig
	}
	for _, w := range windows {
		if err := w.Validate(); err != nil {
			s.parkLocked()
			return err
		}
	}

	sorted := make([]Window, len(windows))
	copy(sorted, windows)
	sortWindows(sorted)

	s.windows = sorted
	s.initialized = true
	s.current = s.deriveLocked(s.now())
	s.armLocked()

	s.logger.Info().
		Int("windows", len(sorted)).
		Str("current_slot", string(s.current)).
		Msg("window scheduler initialized")
	return nil
}

// parkLocked cancels timers and drops the window set.
func (s *Scheduler) parkLocked() {
	s.cancelTimersLocked()
	s.windows = nil
	s.initialized = false
	s.current = models.SlotNone
}

// CurrentSlot returns the slot the clock is currently inside, or SlotNone.
func (s *Scheduler) CurrentSlot() models.SlotType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// InWindow reports whether any check-in window is open.
func (s *Scheduler) InWindow() bool {
	return s.CurrentSlot() != models.SlotNone
}

// OnSlotChange registers a listener for slot transitions. Listeners run in
// registration order; the returned function unregisters.
func (s *Scheduler) OnSlotChange(fn func(current, previous models.SlotType)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return func() {}
	}

	s.nextListenerID++
	id := s.nextListenerID
	s.changeSubs = append(s.changeSubs, slotListener{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.changeSubs {
			if l.id == id {
				s.changeSubs = append(s.changeSubs[:i], s.changeSubs[i+1:]...)
				return
			}
		}
	}
}

// OnPreload registers a listener fired shortly before a window opens.
func (s *Scheduler) OnPreload(fn func(next models.SlotType)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return func() {}
	}

	s.nextListenerID++
	id := s.nextListenerID
	s.preloadSubs = append(s.preloadSubs, preloadListener{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.preloadSubs {
			if l.id == id {
				s.preloadSubs = append(s.preloadSubs[:i], s.preloadSubs[i+1:]...)
				return
			}
		}
	}
}

// CheckNow re-derives the current slot from the wall clock and re-arms the
// timers. If the slot changed, OnSlotChange listeners fire synchronously
// before it returns. Reports whether the slot changed.
func (s *Scheduler) CheckNow() bool {
	s.mu.Lock()
	if !s.initialized || s.stopped {
		s.mu.Unlock()
		return false
	}

	derived := s.deriveLocked(s.now())
	changed := derived != s.current
	previous := s.current

	var listeners []slotListener
	if changed {
		s.current = derived
		listeners = append(listeners, s.changeSubs...)
	}
	s.armLocked()
	s.mu.Unlock()

	if changed {
		s.logger.Info().
			Str("from", string(previous)).
			Str("to", string(derived)).
			Msg("slot changed")
		s.notifyChange(listeners, derived, previous)
	}
	return changed
}

// Resume re-synchronizes after the host was suspended: state is rebuilt
// from the wall clock, never from elapsed-timer bookkeeping.
func (s *Scheduler) Resume() {
	s.logger.Debug().Msg("resume signal, resyncing from wall clock")
	s.CheckNow()
}

// Stop cancels pending timers and clears listener registries. Terminal.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	s.cancelTimersLocked()
	s.changeSubs = nil
	s.preloadSubs = nil
	s.logger.Info().Msg("window scheduler stopped")
}

// deriveLocked computes slot membership for the given instant.
func (s *Scheduler) deriveLocked(now time.Time) models.SlotType {
	return SlotAt(s.windows, now.In(s.loc).Format("15:04:05"))
}

func (s *Scheduler) cancelTimersLocked() {
	s.gen++
	if s.transitionTimer != nil {
		s.transitionTimer.Stop()
		s.transitionTimer = nil
	}
	if s.preloadTimer != nil {
		s.preloadTimer.Stop()
		s.preloadTimer = nil
	}
}

// armLocked arms the transition timer for the nearest future window start
// and, when more than the preload lead remains, the preload timer at
// start−lead. Window ends are not armed; leaving a window surfaces on the
// next start fire or an explicit CheckNow.
func (s *Scheduler) armLocked() {
	s.cancelTimersLocked()
	if !s.initialized || s.stopped || len(s.windows) == 0 {
		return
	}

	now := s.now()
	next, at := s.nextStartLocked(now)
	delay := at.Sub(now)
	if delay < 0 {
		delay = 0
	}

	gen := s.gen
	s.transitionTimer = time.AfterFunc(delay, func() { s.fireTransition(gen) })
	if delay > s.lead {
		s.preloadTimer = time.AfterFunc(delay-s.lead, func() { s.firePreload(gen, next) })
	}

	s.logger.Debug().
		Str("next_slot", string(next)).
		Time("at", at).
		Bool("preload_armed", delay > s.lead).
		Msg("timers armed")
}

// nextStartLocked finds the nearest strictly-future window start: the first
// of today's remaining starts in order, else tomorrow's earliest.
func (s *Scheduler) nextStartLocked(now time.Time) (models.SlotType, time.Time) {
	local := now.In(s.loc)
	clock := local.Format("15:04:05")

	for _, w := range s.windows {
		if w.Start > clock {
			return w.Slot, combine(local, w.Start, s.loc)
		}
	}

	first := s.windows[0]
	tomorrow := local.AddDate(0, 0, 1)
	return first.Slot, combine(tomorrow, first.Start, s.loc)
}

// combine anchors a clock string onto a date in the given zone.
func combine(day time.Time, clock string, loc *time.Location) time.Time {
	h, m, sec, _ := parseClock(clock)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, sec, 0, loc)
}

func (s *Scheduler) fireTransition(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}

	derived := s.deriveLocked(s.now())
	changed := derived != s.current
	previous := s.current

	var listeners []slotListener
	if changed {
		s.current = derived
		listeners = append(listeners, s.changeSubs...)
	}
	s.armLocked()
	s.mu.Unlock()

	if changed {
		s.logger.Info().
			Str("from", string(previous)).
			Str("to", string(derived)).
			Msg("slot changed")
		s.notifyChange(listeners, derived, previous)
	}
}

func (s *Scheduler) firePreload(gen uint64, next models.SlotType) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	listeners := append([]preloadListener(nil), s.preloadSubs...)
	s.mu.Unlock()

	s.logger.Debug().Str("next_slot", string(next)).Msg("preload fired")
	for _, l := range listeners {
		s.callPreload(l, next)
	}
}

// notifyChange runs listeners in registration order; a panicking listener
// is logged and the rest still run.
func (s *Scheduler) notifyChange(listeners []slotListener, current, previous models.SlotType) {
	for _, l := range listeners {
		s.callChange(l, current, previous)
	}
}

func (s *Scheduler) callChange(l slotListener, current, previous models.SlotType) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("slot change listener panicked")
		}
	}()
	l.fn(current, previous)
}

func (s *Scheduler) callPreload(l preloadListener, next models.SlotType) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("preload listener panicked")
		}
	}()
	l.fn(next)
}
