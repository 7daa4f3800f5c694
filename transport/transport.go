// Package transport provides the sockets an RTP session transmits through:
// RTSP interleaved TCP, plain UDP, and QUIC datagrams. One socket carries
// both the RTP media path and the RTCP report path for a session.
package transport

import "github.com/zsiec/pulse/rtp"

// Protocol identifies the lower transport carrying RTP.
type Protocol int

const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
	ProtocolQUIC
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	case ProtocolQUIC:
		return "quic"
	default:
		return "unknown"
	}
}

// Ports is the remote RTP/RTCP destination pair for one media kind.
type Ports struct {
	RTP  int
	RTCP int
}

// Socket sends wire frames and RTCP reports for one session. Overhead
// reports the fixed per-packet framing cost the transport adds on the wire;
// the pipeline's byte accounting includes it for media and reports alike.
type Socket interface {
	SendFrame(f *rtp.Frame) error
	SendReport(data []byte, video bool) error
	Flush() error
	Close() error
	Overhead() int
}
