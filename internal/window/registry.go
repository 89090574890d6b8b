/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package window

import "sync"

// Registry tracks the live scheduler for each brand. The server owns the
// lifecycle; API handlers only read current state.
type Registry struct {
	mu         sync.RWMutex
	schedulers map[uint]*Scheduler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schedulers: make(map[uint]*Scheduler)}
}

// Put installs the scheduler for a brand, stopping any previous one. Stop is
// terminal, so replacement is the only way to swap window sets atomically
// with running timers.
func (r *Registry) Put(brandID uint, s *Scheduler) {
	r.mu.Lock()
	prev := r.schedulers[brandID]
	r.schedulers[brandID] = s
	r.mu.Unlock()

	if prev != nil && prev != s {
		prev.Stop()
	}
}

// Get returns the scheduler for a brand.
func (r *Registry) Get(brandID uint) (*Scheduler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedulers[brandID]
	return s, ok
}

// Remove stops and drops the scheduler for a brand.
func (r *Registry) Remove(brandID uint) {
	r.mu.Lock()
	s := r.schedulers[brandID]
	delete(r.schedulers, brandID)
	r.mu.Unlock()

	if s != nil {
		s.Stop()
	}
}

// Len returns the number of registered schedulers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schedulers)
}

// StopAll stops every scheduler and empties the registry.
func (r *Registry) StopAll() {
	r.mu.Lock()
	schedulers := r.schedulers
	r.schedulers = make(map[uint]*Scheduler)
	r.mu.Unlock()

	for _, s := range schedulers {
		s.Stop()
	}
}
