package rtp

import (
	"errors"
	"fmt"
	"sync"

	pionrtp "github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/zsiec/pulse/media"
)

const (
	// maxPacketSize is the on-wire packet budget: 1500 (Ethernet MTU) minus
	// 20 bytes of IP header and 8 of UDP header, the same budget GStreamer's
	// rtspsrc uses.
	maxPacketSize = 1472

	// rtpHeaderSize is the fixed RTP header without CSRCs or extensions.
	rtpHeaderSize = 12

	// VideoClockRate is the RTP clock for every video codec carried here.
	VideoClockRate = 90000

	// Dynamic payload types assigned to the session's two streams.
	PayloadTypeVideo = 96
	PayloadTypeAudio = 97
)

// Sentinel errors for packetizer configuration. Parameter validation happens
// here, eagerly, so a misconfigured codec fails at setup rather than on the
// first frame.
var (
	ErrUnknownCodec      = errors.New("rtp: unknown codec")
	ErrMissingParameters = errors.New("rtp: missing codec parameters")
)

// Packetizer converts one encoded access unit into zero or more wire-ready
// RTP packets, in order. Implementations carry sequence state across frames;
// a single long-lived instance serves a whole session.
type Packetizer interface {
	CreatePackets(f *media.Frame) ([]*Frame, error)
	SetSSRC(ssrc uint32)
	Reset()
}

// packetizer is the shared engine behind both media kinds: a codec-specific
// payloader plus RTP header state.
type packetizer struct {
	mu          sync.Mutex
	payloader   pionrtp.Payloader
	sequencer   pionrtp.Sequencer
	ssrc        uint32
	payloadType uint8
	clockRate   uint32
	isVideo     bool
}

// NewVideoPacketizer selects the payloader for codec and validates the
// parameter sets it needs: H.264 requires SPS and PPS, H.265 additionally a
// VPS. AV1 carries its sequence header in-band and needs none. For H.264 the
// parameter sets are fed to the payloader so it aggregates them into the
// first STAP-A it emits.
func NewVideoPacketizer(codec media.VideoCodec, sps, pps, vps []byte) (Packetizer, error) {
	var payloader pionrtp.Payloader

	switch codec {
	case media.VideoH264:
		if len(sps) == 0 || len(pps) == 0 {
			return nil, fmt.Errorf("%w: h264 requires sps and pps", ErrMissingParameters)
		}
		h264 := &codecs.H264Payloader{}
		// SPS/PPS-only input produces no packets; the payloader caches them.
		h264.Payload(maxPacketSize-rtpHeaderSize, annexB(sps, pps))
		payloader = h264
	case media.VideoH265:
		if len(sps) == 0 || len(pps) == 0 || len(vps) == 0 {
			return nil, fmt.Errorf("%w: h265 requires vps, sps and pps", ErrMissingParameters)
		}
		payloader = &codecs.H265Payloader{}
	case media.VideoAV1:
		payloader = &codecs.AV1Payloader{}
	default:
		return nil, fmt.Errorf("%w: video codec %d", ErrUnknownCodec, codec)
	}

	return &packetizer{
		payloader:   payloader,
		sequencer:   pionrtp.NewRandomSequencer(),
		payloadType: PayloadTypeVideo,
		clockRate:   VideoClockRate,
		isVideo:     true,
	}, nil
}

// NewAudioPacketizer selects the payloader for codec. The RTP clock of an
// audio stream is its sample rate.
func NewAudioPacketizer(codec media.AudioCodec, sampleRate int) (Packetizer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrMissingParameters, sampleRate)
	}

	var payloader pionrtp.Payloader

	switch codec {
	case media.AudioAAC:
		payloader = &aacPayloader{}
	case media.AudioG711:
		payloader = &codecs.G711Payloader{}
	case media.AudioOpus:
		payloader = &codecs.OpusPayloader{}
	default:
		return nil, fmt.Errorf("%w: audio codec %d", ErrUnknownCodec, codec)
	}

	return &packetizer{
		payloader:   payloader,
		sequencer:   pionrtp.NewRandomSequencer(),
		payloadType: PayloadTypeAudio,
		clockRate:   uint32(sampleRate),
	}, nil
}

// CreatePackets fragments one access unit into wire frames. All packets of
// the unit share its RTP timestamp; the marker bit is set on the last.
func (p *packetizer) CreatePackets(f *media.Frame) ([]*Frame, error) {
	if len(f.Data) == 0 {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ts := uint32(uint64(f.PTS) * uint64(p.clockRate) / 1_000_000)
	payloads := p.payloader.Payload(maxPacketSize-rtpHeaderSize, f.Data)

	frames := make([]*Frame, 0, len(payloads))
	for i, payload := range payloads {
		pkt := pionrtp.Packet{
			Header: pionrtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
				PayloadType:    p.payloadType,
				SequenceNumber: p.sequencer.NextSequenceNumber(),
				Timestamp:      ts,
				SSRC:           p.ssrc,
			},
			Payload: payload,
		}
		buf, err := pkt.Marshal()
		if err != nil {
			return nil, fmt.Errorf("rtp: marshal packet: %w", err)
		}
		frames = append(frames, &Frame{
			Buffer:    buf,
			Length:    len(buf),
			Timestamp: ts,
			IsVideo:   p.isVideo,
		})
	}
	return frames, nil
}

// SetSSRC installs the per-session stream identifier used in every
// subsequent packet header.
func (p *packetizer) SetSSRC(ssrc uint32) {
	p.mu.Lock()
	p.ssrc = ssrc
	p.mu.Unlock()
}

// Reset discards sequence state so the next session starts from a fresh
// random sequence number.
func (p *packetizer) Reset() {
	p.mu.Lock()
	p.sequencer = pionrtp.NewRandomSequencer()
	p.mu.Unlock()
}

// annexB joins NAL units into a single Annex B byte stream.
func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, nalu := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, nalu...)
	}
	return out
}
