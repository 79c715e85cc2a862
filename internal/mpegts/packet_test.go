package mpegts

import (
	"encoding/binary"
	"testing"
)

func makePacket(pid uint16, cc uint8, pusi bool, payload []byte) []byte {
	buf := make([]byte, packetSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x10 | (cc & 0x0F) // payload only
	if pusi {
		buf[1] |= 0x40
	}
	copy(buf[4:], payload)
	return buf
}

func makePacketWithAF(pid uint16, cc uint8, afLen int, payload []byte) []byte {
	buf := make([]byte, packetSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x20 | (cc & 0x0F)
	if len(payload) > 0 {
		buf[3] |= 0x10
	}
	buf[4] = byte(afLen)
	if offset := 5 + afLen; offset < packetSize {
		copy(buf[offset:], payload)
	}
	return buf
}

type testStream struct {
	streamType uint8
	pid        uint16
}

// buildPAT returns a PAT section with a valid CRC32.
func buildPAT(tsID uint16, programs ...PATProgram) []byte {
	sectionLength := 5 + 4*len(programs) + 4
	data := make([]byte, 3+sectionLength)
	data[0] = tableIDPAT
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F
	data[2] = byte(sectionLength)
	binary.BigEndian.PutUint16(data[3:], tsID)
	data[5] = 0xC1 // version 0, current_next 1

	offset := 8
	for _, p := range programs {
		binary.BigEndian.PutUint16(data[offset:], p.ProgramNumber)
		binary.BigEndian.PutUint16(data[offset+2:], 0xE000|p.PMTPID)
		offset += 4
	}
	binary.BigEndian.PutUint32(data[offset:], computeCRC32(data[:offset]))
	return data
}

// buildPMT returns a PMT section with a valid CRC32.
func buildPMT(programNum, pcrPID uint16, streams ...testStream) []byte {
	sectionLength := 9 + 5*len(streams) + 4
	data := make([]byte, 3+sectionLength)
	data[0] = tableIDPMT
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F
	data[2] = byte(sectionLength)
	binary.BigEndian.PutUint16(data[3:], programNum)
	data[5] = 0xC1
	binary.BigEndian.PutUint16(data[8:], 0xE000|pcrPID)
	data[10] = 0xF0 // program_info_length 0

	offset := 12
	for _, s := range streams {
		data[offset] = s.streamType
		binary.BigEndian.PutUint16(data[offset+1:], 0xE000|s.pid)
		data[offset+3] = 0xF0 // ES_info_length 0
		offset += 5
	}
	binary.BigEndian.PutUint32(data[offset:], computeCRC32(data[:offset]))
	return data
}

// withPointer prefixes a section with a zero pointer field.
func withPointer(section []byte) []byte {
	return append([]byte{0x00}, section...)
}

// encodeTimestamp is the inverse of decodeTimestamp; marker is the 4-bit
// prefix ('0010' PTS only, '0011' PTS with DTS, '0001' DTS).
func encodeTimestamp(marker byte, value int64) []byte {
	return []byte{
		marker<<4 | byte((value>>29)&0x0E) | 0x01,
		byte(value >> 22),
		byte((value>>14)&0xFE) | 0x01,
		byte(value >> 7),
		byte((value<<1)&0xFE) | 0x01,
	}
}

// buildPES returns a PES packet. Negative pts/dts are omitted. Video
// stream ids (0xE0-0xEF) get an unbounded packet length.
func buildPES(streamID byte, pts, dts int64, data []byte) []byte {
	var opt []byte
	var flags byte
	switch {
	case pts >= 0 && dts >= 0:
		flags = 3
		opt = append(encodeTimestamp(0x03, pts), encodeTimestamp(0x01, dts)...)
	case pts >= 0:
		flags = 2
		opt = encodeTimestamp(0x02, pts)
	}

	length := 3 + len(opt) + len(data)
	if streamID&0xF0 == 0xE0 {
		length = 0
	}
	buf := []byte{0x00, 0x00, 0x01, streamID, byte(length >> 8), byte(length), 0x80, flags << 6, byte(len(opt))}
	buf = append(buf, opt...)
	return append(buf, data...)
}

func TestParsePacket(t *testing.T) {
	t.Parallel()
	p, err := parsePacket(makePacket(0x100, 5, true, []byte{0x01, 0x02, 0x03}))
	if err != nil {
		t.Fatal(err)
	}
	h := p.Header
	if h.PID != 0x100 || h.ContinuityCounter != 5 || !h.PayloadUnitStartIndicator {
		t.Errorf("header = %+v", h)
	}
	if !h.HasPayload || h.HasAdaptationField {
		t.Errorf("flags = %+v", h)
	}
	if len(p.Payload) != 184 || p.Payload[2] != 0x03 {
		t.Errorf("payload length %d, payload[2] 0x%02X", len(p.Payload), p.Payload[2])
	}
}

func TestParsePacketTEIAndMaxPID(t *testing.T) {
	t.Parallel()
	buf := makePacket(0x1FFF, 0, false, nil)
	buf[1] |= 0x80
	p, err := parsePacket(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Header.TransportErrorIndicator {
		t.Error("TEI should be set")
	}
	if p.Header.PID != 0x1FFF {
		t.Errorf("PID = 0x%X, want 0x1FFF", p.Header.PID)
	}
}

func TestParsePacketAdaptationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		afLen      int
		payload    []byte
		wantPayLen int
	}{
		{"af_1_byte", 1, []byte{0xAA}, 188 - 6},
		{"af_10_bytes", 10, []byte{0xBB}, 188 - 15},
		{"af_183_bytes_no_payload", 183, nil, 0},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, err := parsePacket(makePacketWithAF(0x100, 0, tc.afLen, tc.payload))
			if err != nil {
				t.Fatal(err)
			}
			if !p.Header.HasAdaptationField {
				t.Error("HasAdaptationField should be true")
			}
			if p.Header.HasPayload != (tc.payload != nil) {
				t.Errorf("HasPayload = %v", p.Header.HasPayload)
			}
			if len(p.Payload) != tc.wantPayLen {
				t.Errorf("payload length = %d, want %d", len(p.Payload), tc.wantPayLen)
			}
		})
	}
}

func TestParsePacketErrors(t *testing.T) {
	t.Parallel()
	if _, err := parsePacket(make([]byte, packetSize)); err == nil {
		t.Error("expected error for bad sync byte")
	}
	if _, err := parsePacket([]byte{0x47, 0x00, 0x00}); err == nil {
		t.Error("expected error for wrong packet size")
	}
}

func FuzzParsePacket(f *testing.F) {
	f.Add(makePacket(0, 0, true, nil))
	f.Add(makePacketWithAF(0x100, 0, 7, []byte{0x01}))

	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) != packetSize {
			return
		}
		parsePacket(data) // must not panic
	})
}
