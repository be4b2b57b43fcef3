package playback

import "sync/atomic"

// SessionStats accumulates per-session frame delivery counters. The tick
// loop and the audio task may both touch it, so all counters are atomic.
// One instance is created per session and read back at teardown; there is
// no process-wide accumulator.
type SessionStats struct {
	framesSent   atomic.Int64
	framesFailed atomic.Int64
	framesStale  atomic.Int64
	totalRetries atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	FramesSent   int64
	FramesFailed int64
	FramesStale  int64
	TotalRetries int64
}

func NewSessionStats() *SessionStats {
	return &SessionStats{}
}

func (s *SessionStats) RecordSent()      { s.framesSent.Add(1) }
func (s *SessionStats) RecordFailed()    { s.framesFailed.Add(1) }
func (s *SessionStats) RecordStale()     { s.framesStale.Add(1) }
func (s *SessionStats) AddRetries(n int) { s.totalRetries.Add(int64(n)) }

// Snapshot reads all counters.
func (s *SessionStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		FramesSent:   s.framesSent.Load(),
		FramesFailed: s.framesFailed.Load(),
		FramesStale:  s.framesStale.Load(),
		TotalRetries: s.totalRetries.Load(),
	}
}

// Reset zeroes all counters.
func (s *SessionStats) Reset() {
	s.framesSent.Store(0)
	s.framesFailed.Store(0)
	s.framesStale.Store(0)
	s.totalRetries.Store(0)
}

// Merge adds another snapshot's counters, used when rolling per-session
// stats into a running total across turns.
func (s *SessionStats) Merge(snap StatsSnapshot) {
	s.framesSent.Add(snap.FramesSent)
	s.framesFailed.Add(snap.FramesFailed)
	s.framesStale.Add(snap.FramesStale)
	s.totalRetries.Add(snap.TotalRetries)
}
