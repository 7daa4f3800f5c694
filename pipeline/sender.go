// Package pipeline owns the send half of an RTSP/RTP session: a bounded
// frame queue in front of a transmission loop that packetizes frames and
// writes them to the transport socket, a once-per-second bitrate measurement
// loop, and the lifecycle controller coordinating both.
package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/pulse/bitrate"
	"github.com/zsiec/pulse/media"
	"github.com/zsiec/pulse/report"
	"github.com/zsiec/pulse/rtp"
	"github.com/zsiec/pulse/transport"
)

const (
	// DefaultCongestionThreshold is the queue occupancy percentage above
	// which the producer should back off.
	DefaultCongestionThreshold = 20.0

	// pollInterval bounds how long the transmission loop waits for a frame
	// before re-checking for cancellation.
	pollInterval = time.Second

	// measureInterval is the bitrate sampling cadence.
	measureInterval = time.Second
)

// Sentinel errors for lifecycle transitions.
var (
	ErrNotIdle       = errors.New("pipeline: sender not idle, call Stop first")
	ErrNoSocket      = errors.New("pipeline: no transport socket configured")
	ErrNotConfigured = errors.New("pipeline: no packetizer configured")
)

// reporter is the subset of report.Generator the sender drives. Accepting an
// interface here keeps the transmission loop testable with stubs.
type reporter interface {
	SetSSRC(video, audio uint32)
	Update(f *rtp.Frame) (bool, error)
	Reset()
	Close() error
}

// Compile-time interface check.
var _ reporter = (*report.Generator)(nil)

// Sender is the transmission pipeline for one RTSP/RTP publishing session.
// Producers hand it encoded frames through SendFrame; Start spawns the
// transmission and measurement loops under one cancellation context; Stop
// joins both before returning. Counters survive the end of a session until
// Stop or an explicit reset clears them, so totals stay inspectable after a
// session dies.
type Sender struct {
	log     *slog.Logger
	onFail  func(reason string)
	verbose atomic.Bool

	queue *frameQueue
	est   *bitrate.Estimator

	mu       sync.Mutex
	videoPkt rtp.Packetizer
	audioPkt rtp.Packetizer
	sock     transport.Socket
	rep      reporter
	cancel   context.CancelFunc
	wait     func() error
	failOnce *sync.Once

	running atomic.Bool

	// bytesSent is the rolling byte counter shared by the transmission loop
	// (writer) and the measurement loop (read-and-zero).
	bytesSent atomic.Int64

	videoSent    atomic.Int64
	audioSent    atomic.Int64
	videoDropped atomic.Int64
	audioDropped atomic.Int64
}

// New creates a Sender. onFailure is invoked at most once per session, from
// the transmission goroutine, when a transport error ends the session;
// onBitrate receives the smoothed outgoing bitrate once per second while
// running. Either callback may be nil.
func New(onFailure func(reason string), onBitrate func(bitsPerSec float64)) *Sender {
	return &Sender{
		log:    slog.With("component", "sender"),
		onFail: onFailure,
		queue:  newFrameQueue(DefaultCacheSize),
		est:    bitrate.New(onBitrate),
	}
}

// SetVideoInfo selects the video codec, validates its parameter sets, and
// installs the packetizer used for every video frame of the session.
func (s *Sender) SetVideoInfo(codec media.VideoCodec, sps, pps, vps []byte) error {
	p, err := rtp.NewVideoPacketizer(codec, sps, pps, vps)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.videoPkt = p
	s.mu.Unlock()
	return nil
}

// SetAudioInfo selects the audio codec and sample rate and installs the
// packetizer used for every audio frame of the session.
func (s *Sender) SetAudioInfo(codec media.AudioCodec, sampleRate int) error {
	p, err := rtp.NewAudioPacketizer(codec, sampleRate)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.audioPkt = p
	s.mu.Unlock()
	return nil
}

// SetSocketsInfo configures transport addressing before Start. For UDP the
// per-kind RTP/RTCP destinations are dialed and installed immediately; for
// stream transports (TCP, QUIC) the established connection is attached
// afterwards through SetSocket and the ports are ignored.
func (s *Sender) SetSocketsInfo(proto transport.Protocol, host string, videoPorts, audioPorts transport.Ports) error {
	if proto != transport.ProtocolUDP {
		return nil
	}
	sock, err := transport.NewUDP(host, videoPorts, audioPorts)
	if err != nil {
		return err
	}
	s.SetSocket(sock)
	return nil
}

// SetSocket injects the transport socket the session transmits through and
// binds a fresh sender-report generator to it.
func (s *Sender) SetSocket(sock transport.Socket) {
	s.mu.Lock()
	s.sock = sock
	s.rep = report.NewGenerator(sock)
	s.mu.Unlock()
}

// Start moves the sender from idle to running: reset estimator, cleared
// queue, fresh SSRC pair propagated to the packetizers and the report
// generator, and the two session loops spawned under one cancellation
// context. Counters keep whatever the last explicit reset left in them.
func (s *Sender) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() || s.cancel != nil {
		return ErrNotIdle
	}
	if s.sock == nil {
		return ErrNoSocket
	}
	if s.videoPkt == nil && s.audioPkt == nil {
		return ErrNotConfigured
	}

	s.est.Reset()
	s.queue.clear()

	videoSSRC, audioSSRC := randomSSRC(), randomSSRC()
	if s.videoPkt != nil {
		s.videoPkt.SetSSRC(videoSSRC)
	}
	if s.audioPkt != nil {
		s.audioPkt.SetSSRC(audioSSRC)
	}
	if s.rep != nil {
		s.rep.SetSSRC(videoSSRC, audioSSRC)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	s.cancel = cancel
	s.wait = g.Wait
	s.failOnce = &sync.Once{}
	s.running.Store(true)

	sock, rep := s.sock, s.rep
	videoPkt, audioPkt := s.videoPkt, s.audioPkt
	g.Go(func() error { return s.transmit(ctx, sock, rep, videoPkt, audioPkt) })
	g.Go(func() error { return s.measure(ctx) })

	s.log.Info("session started", "videoSSRC", videoSSRC, "audioSSRC", audioSSRC)
	return nil
}

// Stop tears the session down. By the time it returns both loops have fully
// exited, all four counters read zero, and the queue is empty. Safe to call
// when already idle.
func (s *Sender) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}

	s.running.Store(false)

	if s.rep != nil {
		s.rep.Reset()
		s.rep.Close()
	}
	if s.sock != nil {
		s.sock.Close()
	}
	if s.videoPkt != nil {
		s.videoPkt.Reset()
	}
	if s.audioPkt != nil {
		s.audioPkt.Reset()
	}
	s.resetCounters()

	s.cancel()
	s.wait()
	s.cancel = nil
	s.wait = nil

	// Loops are joined; nothing else touches the queue now.
	s.queue.clear()

	s.log.Info("session stopped")
}

// SendFrame offers one encoded frame to the queue. It never blocks: when the
// queue is full the frame is discarded and the kind's dropped counter
// advances. Offers while idle are discarded without accounting.
func (s *Sender) SendFrame(f *media.Frame) {
	if f == nil || !s.running.Load() {
		return
	}
	if !s.hasPacketizer(f.Kind) {
		// Kinds without a packetizer are rejected at setup; a stray frame
		// here has nowhere to go and nothing to account it against.
		return
	}
	if s.queue.offer(f) {
		return
	}
	if f.Kind == media.KindVideo {
		s.videoDropped.Add(1)
	} else {
		s.audioDropped.Add(1)
	}
	if s.verbose.Load() {
		s.log.Debug("frame dropped, queue full", "kind", f.Kind)
	}
}

func (s *Sender) hasPacketizer(k media.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k == media.KindVideo {
		return s.videoPkt != nil
	}
	return s.audioPkt != nil
}

// transmit is the single queue consumer: dequeue with a bounded wait,
// packetize, write each wire frame, account bytes, update the report
// generator, flush once per media frame. Any transport error is fatal to
// the session.
func (s *Sender) transmit(ctx context.Context, sock transport.Socket, rep reporter, videoPkt, audioPkt rtp.Packetizer) error {
	for {
		frame, ok := s.queue.poll(ctx, pollInterval)
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			continue // idle tick
		}
		if err := s.send(frame, sock, rep, videoPkt, audioPkt); err != nil {
			s.fail(err)
			return err
		}
	}
}

func (s *Sender) send(f *media.Frame, sock transport.Socket, rep reporter, videoPkt, audioPkt rtp.Packetizer) error {
	pkt := audioPkt
	if f.Kind == media.KindVideo {
		pkt = videoPkt
	}

	frames, err := pkt.CreatePackets(f)
	if err != nil {
		return fmt.Errorf("packetize %s frame: %w", f.Kind, err)
	}

	overhead := sock.Overhead()
	for _, wf := range frames {
		if err := sock.SendFrame(wf); err != nil {
			return fmt.Errorf("send %s packet: %w", f.Kind, err)
		}
		s.bytesSent.Add(int64(wf.Length + overhead))
		if s.verbose.Load() {
			s.log.Debug("packet sent",
				"kind", f.Kind,
				"bytes", wf.Length,
				"timestamp", wf.Timestamp)
		}

		if rep != nil {
			emitted, err := rep.Update(wf)
			if err != nil {
				return fmt.Errorf("sender report: %w", err)
			}
			if emitted {
				s.bytesSent.Add(int64(report.PacketLength + overhead))
			}
		}
	}

	if err := sock.Flush(); err != nil {
		return fmt.Errorf("flush %s frame: %w", f.Kind, err)
	}

	if f.Kind == media.KindVideo {
		s.videoSent.Add(1)
	} else {
		s.audioSent.Add(1)
	}
	return nil
}

// measure samples the shared byte counter once per second and feeds the
// estimator. It shares the session's cancellation with the transmission
// loop, so a fatal transport error tears it down too.
func (s *Sender) measure(ctx context.Context) error {
	ticker := time.NewTicker(measureInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sampleBitrate()
		}
	}
}

// sampleBitrate drains the rolling byte counter into the estimator.
func (s *Sender) sampleBitrate() {
	bytes := s.bytesSent.Swap(0)
	s.est.Calculate(bytes * 8)
}

// fail surfaces a fatal session error through the failure sink exactly once
// and leaves the sender stopped. Errors racing a Stop teardown are not
// surfaced: the socket close was self-inflicted.
func (s *Sender) fail(err error) {
	if !s.running.Swap(false) {
		return
	}
	s.log.Error("session failed", "error", err)
	if s.onFail != nil {
		s.failOnce.Do(func() { s.onFail(err.Error()) })
	}
}

// randomSSRC draws a fresh 31-bit stream identifier for one session.
func randomSSRC() uint32 {
	var b [4]byte
	rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:]) & 0x7fffffff
}
