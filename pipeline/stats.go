package pipeline

// Snapshot is a point-in-time view of the sender's counters and queue state,
// JSON-serializable for diagnostics endpoints and log overlays.
type Snapshot struct {
	Running      bool    `json:"running"`
	CacheSize    int     `json:"cacheSize"`
	ItemsInCache int     `json:"itemsInCache"`
	VideoSent    int64   `json:"videoSent"`
	AudioSent    int64   `json:"audioSent"`
	VideoDropped int64   `json:"videoDropped"`
	AudioDropped int64   `json:"audioDropped"`
	BitrateBps   float64 `json:"bitrateBps"`
}

// Snapshot returns the current counters, queue occupancy, and smoothed
// bitrate. Pure read, no pipeline state changes.
func (s *Sender) Snapshot() Snapshot {
	return Snapshot{
		Running:      s.running.Load(),
		CacheSize:    s.queue.capacity(),
		ItemsInCache: s.queue.size(),
		VideoSent:    s.videoSent.Load(),
		AudioSent:    s.audioSent.Load(),
		VideoDropped: s.videoDropped.Load(),
		AudioDropped: s.audioDropped.Load(),
		BitrateBps:   s.est.Bitrate(),
	}
}

// Running reports whether a session is active.
func (s *Sender) Running() bool { return s.running.Load() }

// HasCongestion reports whether queue occupancy has reached threshold
// percent of capacity. DefaultCongestionThreshold is the conventional value.
func (s *Sender) HasCongestion(threshold float64) (bool, error) {
	return s.queue.congestion(threshold)
}

// ResizeCache changes the frame queue capacity. It fails if the requested
// size cannot hold the frames currently buffered.
func (s *Sender) ResizeCache(n int) error { return s.queue.resize(n) }

// CacheSize returns the frame queue capacity.
func (s *Sender) CacheSize() int { return s.queue.capacity() }

// ItemsInCache returns the number of frames currently buffered.
func (s *Sender) ItemsInCache() int { return s.queue.size() }

func (s *Sender) SentVideoFrames() int64    { return s.videoSent.Load() }
func (s *Sender) SentAudioFrames() int64    { return s.audioSent.Load() }
func (s *Sender) DroppedVideoFrames() int64 { return s.videoDropped.Load() }
func (s *Sender) DroppedAudioFrames() int64 { return s.audioDropped.Load() }

func (s *Sender) ResetSentVideoFrames()    { s.videoSent.Store(0) }
func (s *Sender) ResetSentAudioFrames()    { s.audioSent.Store(0) }
func (s *Sender) ResetDroppedVideoFrames() { s.videoDropped.Store(0) }
func (s *Sender) ResetDroppedAudioFrames() { s.audioDropped.Store(0) }

// resetCounters clears all four frame counters and the rolling byte counter.
func (s *Sender) resetCounters() {
	s.videoSent.Store(0)
	s.audioSent.Store(0)
	s.videoDropped.Store(0)
	s.audioDropped.Store(0)
	s.bytesSent.Store(0)
}

// SetLogsEnabled toggles verbose per-packet logging at debug level.
func (s *Sender) SetLogsEnabled(v bool) { s.verbose.Store(v) }

// BitrateExponentialFactor returns the estimator's smoothing factor.
func (s *Sender) BitrateExponentialFactor() float64 {
	return s.est.ExponentialFactor()
}

// SetBitrateExponentialFactor changes the estimator's smoothing factor.
func (s *Sender) SetBitrateExponentialFactor(f float64) error {
	return s.est.SetExponentialFactor(f)
}
