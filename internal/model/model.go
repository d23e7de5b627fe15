// internal/model/model.go
package model

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tamzrod/gcode-dispatcher/internal/channel"
)

// Job is the state of the current print job.
type Job struct {
	File          string // physical path of the selected file
	FilePosition  int64
	IsPrinting    bool
	IsPaused      bool
	IsSimulating  bool
	PausePosition *int64
}

// Input is the per-channel slice of the object model.
type Input struct {
	Compatibility     channel.Compatibility
	RelativeExtrusion bool
}

// Network holds the host-side network identity.
type Network struct {
	Hostname string
}

// EventLog is the M929 sink state.
type EventLog struct {
	File   string
	Active bool
}

// State is the mutable object model mirror the handlers operate on.
type State struct {
	Job      Job
	Inputs   [channel.Count]Input
	Network  Network
	EventLog EventLog
	Time     time.Time // last RTC set via M905; zero means never set
	StartUp  time.Time
}

// Store is the read-write-locked state container. Readers share,
// writers are exclusive; callers hold access across the narrowest
// possible region.
type Store struct {
	mu    sync.RWMutex
	state State

	// jobLock serializes job mutations across channels. It is a
	// separate async lock so holders can await firmware work.
	jobLock *semaphore.Weighted
}

// NewStore creates a store with the given per-channel defaults.
func NewStore(compat [channel.Count]channel.Compatibility) *Store {
	s := &Store{jobLock: semaphore.NewWeighted(1)}
	for i := range s.state.Inputs {
		s.state.Inputs[i].Compatibility = compat[i]
	}
	s.state.StartUp = time.Now()
	return s
}

// Read runs fn under the shared lock.
func (s *Store) Read(fn func(*State)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.state)
}

// Write runs fn under the exclusive lock.
func (s *Store) Write(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// Compatibility returns the current mode of one channel.
func (s *Store) Compatibility(ch channel.Channel) channel.Compatibility {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Inputs[ch].Compatibility
}

// LockJob acquires the job lock, honoring ctx cancellation.
func (s *Store) LockJob(ctx context.Context) error {
	return s.jobLock.Acquire(ctx, 1)
}

// UnlockJob releases the job lock.
func (s *Store) UnlockJob() {
	s.jobLock.Release(1)
}
