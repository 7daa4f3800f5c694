package rtp

// aacPayloader fragments AAC access units per RFC 3640 mpeg4-generic mode,
// which pion/rtp/codecs does not provide. Each packet carries a 4-byte
// AU-headers section: a 16-bit AU-headers-length (always one 16-bit header
// here), then the 13-bit AU size and 3-bit AU index.
type aacPayloader struct{}

const auHeaderSize = 4

func (*aacPayloader) Payload(mtu uint16, payload []byte) [][]byte {
	if len(payload) == 0 || int(mtu) <= auHeaderSize {
		return nil
	}

	max := int(mtu) - auHeaderSize
	var out [][]byte
	for offset := 0; offset < len(payload); offset += max {
		end := min(offset+max, len(payload))
		chunk := payload[offset:end]

		buf := make([]byte, auHeaderSize+len(chunk))
		buf[0] = 0x00
		buf[1] = 0x10 // AU-headers-length: 16 bits
		buf[2] = byte(len(payload) >> 5)
		buf[3] = byte(len(payload)&0x1f) << 3 // AU size low bits, AU index 0
		copy(buf[auHeaderSize:], chunk)
		out = append(out, buf)
	}
	return out
}
