// Package rtp turns encoded media frames into wire-ready RTP packets using
// pion/rtp payloaders, one long-lived packetizer per media kind.
package rtp

// Frame is one packet-sized unit ready for transmission, derived from a
// media.Frame. Frames are transient: created, sent, and discarded within a
// single transmission loop iteration.
type Frame struct {
	Buffer    []byte
	Length    int
	Timestamp uint32 // RTP units, used by the sender-report generator
	IsVideo   bool
}
