package mpegts

import "fmt"

const (
	packetSize = 188
	syncByte   = 0x47
)

func parsePacket(buf []byte) (*Packet, error) {
	if len(buf) != packetSize {
		return nil, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), packetSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("mpegts: invalid sync byte 0x%02X", buf[0])
	}

	p := &Packet{
		Header: PacketHeader{
			TransportErrorIndicator:   buf[1]&0x80 != 0,
			PayloadUnitStartIndicator: buf[1]&0x40 != 0,
			PID:                       uint16(buf[1]&0x1F)<<8 | uint16(buf[2]),
			HasAdaptationField:        buf[3]&0x20 != 0,
			HasPayload:                buf[3]&0x10 != 0,
			ContinuityCounter:         buf[3] & 0x0F,
		},
	}

	offset := 4
	if p.Header.HasAdaptationField {
		afLen := int(buf[offset])
		if afLen > 0 {
			p.Header.DiscontinuityIndicator = buf[offset+1]&0x80 != 0
		}
		offset = min(offset+1+afLen, packetSize)
	}

	if p.Header.HasPayload && offset < packetSize {
		p.Payload = append([]byte(nil), buf[offset:]...)
	}
	return p, nil
}
