package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/zsiec/pulse/rtp"
)

// Interleaved channel numbers on the RTSP control connection, in the layout
// of a two-track SETUP: video on interleaved=0-1, audio on interleaved=2-3.
const (
	channelVideoRTP  = 0
	channelVideoRTCP = 1
	channelAudioRTP  = 2
	channelAudioRTCP = 3
)

// interleavedHeaderSize is the '$'-framed header prepended to every packet
// on the control connection: magic byte, channel, 16-bit length.
const interleavedHeaderSize = 4

// Compile-time interface check.
var _ Socket = (*TCP)(nil)

// TCP writes RTP and RTCP packets onto one RTSP control connection using
// interleaved '$' framing (RFC 2326 §10.12). Writes are buffered so a whole
// media frame's packets leave in one syscall when Flush is called.
type TCP struct {
	mu sync.Mutex
	w  *bufio.Writer
	c  io.Closer
}

// NewTCP wraps an established RTSP control connection.
func NewTCP(conn io.WriteCloser) *TCP {
	return &TCP{w: bufio.NewWriterSize(conn, 64<<10), c: conn}
}

func (t *TCP) SendFrame(f *rtp.Frame) error {
	ch := byte(channelAudioRTP)
	if f.IsVideo {
		ch = channelVideoRTP
	}
	return t.write(ch, f.Buffer[:f.Length])
}

func (t *TCP) SendReport(data []byte, video bool) error {
	ch := byte(channelAudioRTCP)
	if video {
		ch = channelVideoRTCP
	}
	return t.write(ch, data)
}

func (t *TCP) write(channel byte, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var header [interleavedHeaderSize]byte
	header[0] = '$'
	header[1] = channel
	binary.BigEndian.PutUint16(header[2:], uint16(len(data)))

	if _, err := t.w.Write(header[:]); err != nil {
		return fmt.Errorf("transport: interleaved header: %w", err)
	}
	if _, err := t.w.Write(data); err != nil {
		return fmt.Errorf("transport: interleaved payload: %w", err)
	}
	return nil
}

func (t *TCP) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.w.Flush(); err != nil {
		return fmt.Errorf("transport: flush: %w", err)
	}
	return nil
}

func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.w.Flush()
	return t.c.Close()
}

// Overhead is the interleaved frame header added to every packet.
func (t *TCP) Overhead() int { return interleavedHeaderSize }
