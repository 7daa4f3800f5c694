package transport

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/quic-go/quic-go"

	"github.com/zsiec/pulse/rtp"
)

// Compile-time interface check.
var _ Socket = (*QUIC)(nil)

// QUIC sends RTP and RTCP as QUIC datagrams (RFC 9221) on an established
// connection, for RTP-over-QUIC sessions. RTP and RTCP share the datagram
// flow and are demultiplexed by packet type on the far side. Packet-oriented:
// no framing overhead, no buffering.
type QUIC struct {
	conn quic.Connection
}

// NewQUIC wraps an established datagram-enabled QUIC connection.
func NewQUIC(conn quic.Connection) *QUIC {
	return &QUIC{conn: conn}
}

// DialQUIC establishes a datagram-enabled QUIC connection to addr.
func DialQUIC(ctx context.Context, addr string, tlsConf *tls.Config) (*QUIC, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{EnableDatagrams: true})
	if err != nil {
		return nil, fmt.Errorf("transport: dial quic %s: %w", addr, err)
	}
	return NewQUIC(conn), nil
}

func (q *QUIC) SendFrame(f *rtp.Frame) error {
	if err := q.conn.SendDatagram(f.Buffer[:f.Length]); err != nil {
		return fmt.Errorf("transport: quic datagram: %w", err)
	}
	return nil
}

func (q *QUIC) SendReport(data []byte, _ bool) error {
	if err := q.conn.SendDatagram(data); err != nil {
		return fmt.Errorf("transport: quic report datagram: %w", err)
	}
	return nil
}

func (q *QUIC) Flush() error { return nil }

func (q *QUIC) Close() error {
	return q.conn.CloseWithError(0, "session ended")
}

func (q *QUIC) Overhead() int { return 0 }
