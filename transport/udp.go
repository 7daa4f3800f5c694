package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/zsiec/pulse/rtp"
)

// Compile-time interface check.
var _ Socket = (*UDP)(nil)

// UDP sends RTP and RTCP datagrams to per-kind destination ports. Datagrams
// leave on Write, so Flush is a no-op and there is no framing overhead.
type UDP struct {
	videoRTP  net.Conn
	videoRTCP net.Conn
	audioRTP  net.Conn
	audioRTCP net.Conn
}

// NewUDP dials the four RTP/RTCP destinations on host.
func NewUDP(host string, videoPorts, audioPorts Ports) (*UDP, error) {
	u := &UDP{}
	for _, d := range []struct {
		conn *net.Conn
		port int
	}{
		{&u.videoRTP, videoPorts.RTP},
		{&u.videoRTCP, videoPorts.RTCP},
		{&u.audioRTP, audioPorts.RTP},
		{&u.audioRTCP, audioPorts.RTCP},
	} {
		conn, err := net.Dial("udp", net.JoinHostPort(host, strconv.Itoa(d.port)))
		if err != nil {
			u.Close()
			return nil, fmt.Errorf("transport: dial udp %s:%d: %w", host, d.port, err)
		}
		*d.conn = conn
	}
	return u, nil
}

func (u *UDP) SendFrame(f *rtp.Frame) error {
	conn := u.audioRTP
	if f.IsVideo {
		conn = u.videoRTP
	}
	if _, err := conn.Write(f.Buffer[:f.Length]); err != nil {
		return fmt.Errorf("transport: udp send: %w", err)
	}
	return nil
}

func (u *UDP) SendReport(data []byte, video bool) error {
	conn := u.audioRTCP
	if video {
		conn = u.videoRTCP
	}
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("transport: udp report: %w", err)
	}
	return nil
}

func (u *UDP) Flush() error { return nil }

func (u *UDP) Close() error {
	var errs []error
	for _, conn := range []net.Conn{u.videoRTP, u.videoRTCP, u.audioRTP, u.audioRTCP} {
		if conn != nil {
			errs = append(errs, conn.Close())
		}
	}
	return errors.Join(errs...)
}

func (u *UDP) Overhead() int { return 0 }
