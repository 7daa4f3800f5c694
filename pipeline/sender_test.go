package pipeline

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/pulse/media"
	"github.com/zsiec/pulse/rtp"
)

// stubSocket records everything sent through it. When block is non-nil,
// SendFrame stalls until the channel is closed, simulating a wedged
// transport.
type stubSocket struct {
	mu       sync.Mutex
	sent     []*rtp.Frame
	reports  [][]byte
	flushes  int
	closed   bool
	overhead int
	sendErr  error
	block    chan struct{}
}

func (s *stubSocket) SendFrame(f *rtp.Frame) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, f)
	return nil
}

func (s *stubSocket) SendReport(data []byte, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, data)
	return nil
}

func (s *stubSocket) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *stubSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSocket) Overhead() int { return s.overhead }

func (s *stubSocket) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// stubPacketizer emits one wire frame per media frame, carrying the payload
// through unchanged.
type stubPacketizer struct {
	video bool
	ssrc  uint32
}

func (p *stubPacketizer) CreatePackets(f *media.Frame) ([]*rtp.Frame, error) {
	return []*rtp.Frame{{
		Buffer:    f.Data,
		Length:    len(f.Data),
		Timestamp: uint32(f.PTS),
		IsVideo:   p.video,
	}}, nil
}

func (p *stubPacketizer) SetSSRC(ssrc uint32) { p.ssrc = ssrc }
func (p *stubPacketizer) Reset()              {}

// stubReporter counts updates and pretends to emit a report on every one
// when emit is set.
type stubReporter struct {
	mu      sync.Mutex
	updates int
	emit    bool
	video   uint32
	audio   uint32
}

func (r *stubReporter) SetSSRC(video, audio uint32) {
	r.mu.Lock()
	r.video, r.audio = video, audio
	r.mu.Unlock()
}

func (r *stubReporter) Update(_ *rtp.Frame) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	return r.emit, nil
}

func (r *stubReporter) Reset()       {}
func (r *stubReporter) Close() error { return nil }

func newTestSender(sock *stubSocket) *Sender {
	s := New(nil, nil)
	s.sock = sock
	s.videoPkt = &stubPacketizer{video: true}
	s.audioPkt = &stubPacketizer{}
	return s
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSendFrameWhileIdle(t *testing.T) {
	t.Parallel()

	s := newTestSender(&stubSocket{})
	s.SendFrame(&media.Frame{Kind: media.KindVideo, Data: []byte{1}})

	if got := s.DroppedVideoFrames(); got != 0 {
		t.Errorf("dropped while idle: got %d, want 0", got)
	}
	if got := s.ItemsInCache(); got != 0 {
		t.Errorf("buffered while idle: got %d, want 0", got)
	}
}

func TestStartValidation(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	if err := s.Start(); !errors.Is(err, ErrNoSocket) {
		t.Errorf("start without socket: got %v, want ErrNoSocket", err)
	}

	s.sock = &stubSocket{}
	if err := s.Start(); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("start without packetizers: got %v, want ErrNotConfigured", err)
	}

	s = newTestSender(&stubSocket{})
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(); !errors.Is(err, ErrNotIdle) {
		t.Errorf("double start: got %v, want ErrNotIdle", err)
	}
}

func TestTransmitInOrder(t *testing.T) {
	t.Parallel()

	sock := &stubSocket{}
	s := newTestSender(sock)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	const n = 10
	for i := 0; i < n; i++ {
		s.SendFrame(&media.Frame{Kind: media.KindVideo, Data: []byte{byte(i)}, PTS: int64(i)})
	}

	waitFor(t, 5*time.Second, "all frames transmitted", func() bool {
		return s.SentVideoFrames() == n
	})

	sock.mu.Lock()
	for i, f := range sock.sent {
		if f.Buffer[0] != byte(i) {
			t.Errorf("frame %d out of order: got payload %d", i, f.Buffer[0])
		}
	}
	flushes := sock.flushes
	sock.mu.Unlock()

	if flushes != n {
		t.Errorf("flushes: got %d, want one per media frame (%d)", flushes, n)
	}

	s.Stop()
	if !sock.closed {
		t.Error("socket not closed by Stop")
	}
	if got := s.SentVideoFrames(); got != 0 {
		t.Errorf("sent counter after Stop: got %d, want 0", got)
	}

	// Frames offered after Stop never transmit.
	s.SendFrame(&media.Frame{Kind: media.KindVideo, Data: []byte{0xff}})
	time.Sleep(20 * time.Millisecond)
	if got := sock.sentCount(); got != n {
		t.Errorf("packets after Stop: got %d, want %d", got, n)
	}
}

func TestDropOnFullQueue(t *testing.T) {
	t.Parallel()

	sock := &stubSocket{block: make(chan struct{})}
	s := newTestSender(sock)
	if err := s.ResizeCache(4); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	const offered = 10
	for i := 0; i < offered; i++ {
		s.SendFrame(&media.Frame{Kind: media.KindVideo, Data: []byte{byte(i)}})
	}

	// With the transport wedged at most one frame is in flight, the queue
	// holds four, and everything else must have been dropped.
	dropped := s.DroppedVideoFrames()
	if dropped < offered-4-1 || dropped > offered-4 {
		t.Errorf("dropped: got %d, want %d or %d", dropped, offered-4-1, offered-4)
	}
	if got := s.ItemsInCache(); got > 4 {
		t.Errorf("buffered: got %d, want <= 4", got)
	}

	// Every offered frame is accounted for exactly once.
	close(sock.block)
	waitFor(t, 5*time.Second, "remaining frames transmitted", func() bool {
		return s.SentVideoFrames()+s.DroppedVideoFrames() == offered
	})
}

func TestFatalTransportError(t *testing.T) {
	t.Parallel()

	failures := make(chan string, 2)
	sock := &stubSocket{sendErr: errors.New("broken pipe")}

	s := New(func(reason string) { failures <- reason }, nil)
	s.sock = sock
	s.videoPkt = &stubPacketizer{video: true}

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	s.SendFrame(&media.Frame{Kind: media.KindVideo, Data: []byte{1}})

	select {
	case <-failures:
	case <-time.After(5 * time.Second):
		t.Fatal("failure sink never invoked")
	}

	waitFor(t, time.Second, "sender stopped", func() bool { return !s.Running() })

	// Exactly one notification per session, and no recovery without an
	// explicit Stop/Start cycle.
	s.SendFrame(&media.Frame{Kind: media.KindVideo, Data: []byte{2}})
	select {
	case r := <-failures:
		t.Fatalf("second failure notification: %q", r)
	case <-time.After(50 * time.Millisecond):
	}

	if err := s.Start(); !errors.Is(err, ErrNotIdle) {
		t.Errorf("start after failure without Stop: got %v, want ErrNotIdle", err)
	}

	s.Stop()
	sock.mu.Lock()
	sock.sendErr = nil
	sock.mu.Unlock()
	if err := s.Start(); err != nil {
		t.Fatalf("start after Stop: %v", err)
	}
	s.Stop()
}

func TestStopIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestSender(&stubSocket{})
	s.Stop() // never started

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
	s.Stop()
}

func TestByteAccountingWithOverheadAndReports(t *testing.T) {
	t.Parallel()

	sock := &stubSocket{overhead: 4}
	rep := &stubReporter{emit: true}
	s := newTestSender(sock)
	s.rep = rep

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	payload := make([]byte, 100)
	s.SendFrame(&media.Frame{Kind: media.KindVideo, Data: payload})

	waitFor(t, 5*time.Second, "frame transmitted", func() bool {
		return s.SentVideoFrames() == 1
	})

	// 100 payload bytes + 4 framing, plus a 28-byte report + 4 framing.
	want := int64(100 + 4 + 28 + 4)
	if got := s.bytesSent.Load(); got != want {
		t.Errorf("bytesSent: got %d, want %d", got, want)
	}

	rep.mu.Lock()
	defer rep.mu.Unlock()
	if rep.updates != 1 {
		t.Errorf("reporter updates: got %d, want 1", rep.updates)
	}
	if rep.video == 0 || rep.audio == 0 {
		t.Error("reporter never received session SSRCs")
	}
}

func TestSampleBitrate(t *testing.T) {
	t.Parallel()

	samples := make(chan float64, 1)
	s := New(nil, func(bps float64) { samples <- bps })
	s.sock = &stubSocket{}
	s.videoPkt = &stubPacketizer{video: true}

	s.bytesSent.Add(12500)
	s.sampleBitrate()

	select {
	case got := <-samples:
		if got != 100000 {
			t.Errorf("bitrate sample: got %v, want 100000", got)
		}
	default:
		t.Fatal("no bitrate sample delivered")
	}

	if got := s.bytesSent.Load(); got != 0 {
		t.Errorf("byte counter after sample: got %d, want 0", got)
	}
}

func TestSetVideoInfoValidation(t *testing.T) {
	t.Parallel()

	s := New(nil, nil)
	sps := []byte{0x67, 0x42}

	if err := s.SetVideoInfo(media.VideoH264, sps, nil, nil); !errors.Is(err, rtp.ErrMissingParameters) {
		t.Errorf("h264 without pps: got %v, want ErrMissingParameters", err)
	}
	if err := s.SetVideoInfo(media.VideoH265, sps, []byte{0x01}, nil); !errors.Is(err, rtp.ErrMissingParameters) {
		t.Errorf("h265 without vps: got %v, want ErrMissingParameters", err)
	}
	if err := s.SetAudioInfo(media.AudioAAC, 0); !errors.Is(err, rtp.ErrMissingParameters) {
		t.Errorf("audio with zero sample rate: got %v, want ErrMissingParameters", err)
	}
}

func TestCounterResets(t *testing.T) {
	t.Parallel()

	s := newTestSender(&stubSocket{})
	s.videoSent.Store(3)
	s.audioSent.Store(4)
	s.videoDropped.Store(5)
	s.audioDropped.Store(6)

	s.ResetSentVideoFrames()
	s.ResetSentAudioFrames()
	s.ResetDroppedVideoFrames()
	s.ResetDroppedAudioFrames()

	snap := s.Snapshot()
	if snap.VideoSent != 0 || snap.AudioSent != 0 || snap.VideoDropped != 0 || snap.AudioDropped != 0 {
		t.Errorf("counters after explicit resets: %+v", snap)
	}
}

func TestHasCongestionContract(t *testing.T) {
	t.Parallel()

	s := newTestSender(&stubSocket{})
	if _, err := s.HasCongestion(120); !errors.Is(err, ErrThresholdRange) {
		t.Errorf("threshold 120: got %v, want ErrThresholdRange", err)
	}
	congested, err := s.HasCongestion(DefaultCongestionThreshold)
	if err != nil {
		t.Fatalf("HasCongestion: %v", err)
	}
	if congested {
		t.Error("empty queue reported congested at default threshold")
	}
}
