package mpegts

import "fmt"

func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// hasOptionalPESHeader reports whether a stream id carries the optional
// PES header. Padding, private_stream_2, ECM, EMM, DSMCC, H.222.1 type E
// and the program stream directory do not.
func hasOptionalPESHeader(streamID byte) bool {
	switch streamID {
	case 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

func parsePES(payload []byte) (*PES, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if !isPESPayload(payload) {
		return nil, fmt.Errorf("mpegts: invalid PES start code")
	}

	pes := &PES{StreamID: payload[3], PTS: -1, DTS: -1}

	// PES_packet_length 0 means unbounded, as used for video
	end := len(payload)
	if n := int(payload[4])<<8 | int(payload[5]); n > 0 && 6+n <= len(payload) {
		end = 6 + n
	}

	if !hasOptionalPESHeader(pes.StreamID) {
		pes.Data = payload[6:end]
		return pes, nil
	}
	if len(payload) < 9 {
		return nil, fmt.Errorf("mpegts: PES optional header too short")
	}

	start := min(9+int(payload[8]), end)
	switch payload[7] >> 6 {
	case 2:
		if len(payload) >= 14 {
			pes.PTS = decodeTimestamp(payload[9:14])
		}
	case 3:
		if len(payload) >= 19 {
			pes.PTS = decodeTimestamp(payload[9:14])
			pes.DTS = decodeTimestamp(payload[14:19])
		}
	}
	pes.Data = payload[start:end]
	return pes, nil
}

// decodeTimestamp extracts a 33-bit PTS or DTS from its 5-byte encoding.
func decodeTimestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1&0x7F)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1&0x7F)
}
