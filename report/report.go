// Package report generates RTCP sender reports for the outgoing RTP streams,
// interleaving them with media through the session's transport socket.
package report

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtcp"

	"github.com/zsiec/pulse/rtp"
	"github.com/zsiec/pulse/transport"
)

// PacketLength is the wire size of a sender report with no reception blocks:
// the 8-byte RTCP header plus 20 bytes of sender info.
const PacketLength = 28

// defaultInterval is how often each stream emits a report.
const defaultInterval = 3 * time.Second

// Generator accumulates per-stream packet and octet counts from transmitted
// wire frames and periodically writes an RTCP sender report for the matching
// stream through the transport socket's report path.
type Generator struct {
	log  *slog.Logger
	sock transport.Socket

	mu       sync.Mutex
	interval time.Duration
	video    streamStats
	audio    streamStats
}

type streamStats struct {
	ssrc        uint32
	packetCount uint32
	octetCount  uint32
	lastRTPTime uint32
	lastReport  time.Time
}

// NewGenerator creates a Generator bound to the socket the session
// transmits through.
func NewGenerator(sock transport.Socket) *Generator {
	return &Generator{
		log:      slog.With("component", "sender-report"),
		sock:     sock,
		interval: defaultInterval,
	}
}

// SetSSRC installs the per-session stream identifiers. Called by the
// lifecycle controller before the first frame of a session.
func (g *Generator) SetSSRC(video, audio uint32) {
	g.mu.Lock()
	g.video.ssrc = video
	g.audio.ssrc = audio
	g.mu.Unlock()
}

// Update accounts one transmitted wire frame and emits a sender report for
// its stream once the report interval has elapsed. It reports whether a
// report was written; the caller adds PacketLength plus transport overhead
// to its byte accounting when it was.
func (g *Generator) Update(f *rtp.Frame) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := &g.audio
	if f.IsVideo {
		st = &g.video
	}
	st.packetCount++
	st.octetCount += uint32(f.Length)
	st.lastRTPTime = f.Timestamp

	now := time.Now()
	if st.lastReport.IsZero() {
		st.lastReport = now
		return false, nil
	}
	if now.Sub(st.lastReport) < g.interval {
		return false, nil
	}
	st.lastReport = now

	sr := rtcp.SenderReport{
		SSRC:        st.ssrc,
		NTPTime:     ntpTime(now),
		RTPTime:     st.lastRTPTime,
		PacketCount: st.packetCount,
		OctetCount:  st.octetCount,
	}
	data, err := sr.Marshal()
	if err != nil {
		return false, fmt.Errorf("report: marshal: %w", err)
	}
	if err := g.sock.SendReport(data, f.IsVideo); err != nil {
		return false, fmt.Errorf("report: send: %w", err)
	}

	g.log.Debug("sender report emitted",
		"video", f.IsVideo,
		"packets", st.packetCount,
		"octets", st.octetCount)
	return true, nil
}

// Reset clears per-session statistics so the next session starts from zero.
func (g *Generator) Reset() {
	g.mu.Lock()
	g.video = streamStats{}
	g.audio = streamStats{}
	g.mu.Unlock()
}

// Close is part of the capability contract. The generator owns no resources
// beyond the socket, which the lifecycle controller closes itself.
func (g *Generator) Close() error { return nil }

// ntpTime converts t to the 64-bit NTP fixed-point format RTCP carries.
func ntpTime(t time.Time) uint64 {
	const epochOffset = 2208988800 // seconds between 1900-01-01 and 1970-01-01
	secs := uint64(t.Unix()) + epochOffset
	frac := (uint64(t.Nanosecond()) << 32) / 1000000000
	return secs<<32 | frac
}
