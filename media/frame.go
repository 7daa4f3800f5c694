// Package media defines the encoded frame types that flow through the Pulse
// transmission pipeline, from the encoder boundary to packetization.
package media

// Kind discriminates the two media lanes carried by the pipeline. Every
// frame belongs to exactly one.
type Kind int

const (
	KindVideo Kind = iota
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// VideoCodec enumerates the video codecs the pipeline can packetize.
type VideoCodec int

const (
	VideoH264 VideoCodec = iota
	VideoH265
	VideoAV1
)

func (c VideoCodec) String() string {
	switch c {
	case VideoH264:
		return "h264"
	case VideoH265:
		return "h265"
	case VideoAV1:
		return "av1"
	default:
		return "unknown"
	}
}

// AudioCodec enumerates the audio codecs the pipeline can packetize.
type AudioCodec int

const (
	AudioAAC AudioCodec = iota
	AudioG711
	AudioOpus
)

func (c AudioCodec) String() string {
	switch c {
	case AudioAAC:
		return "aac"
	case AudioG711:
		return "g711"
	case AudioOpus:
		return "opus"
	default:
		return "unknown"
	}
}

// Frame is one encoded access unit handed to the pipeline by the producer.
// Video payloads are Annex B byte streams; audio payloads are raw codec
// frames. The producer owns the frame until the queue accepts it; after that
// the transmission loop owns it until it is consumed.
type Frame struct {
	Kind Kind
	Data []byte
	PTS  int64 // presentation timestamp, microseconds
}
