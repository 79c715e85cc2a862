// Package tstest writes small MPEG transport streams for tests: one
// program, sections in single packets, PES packets split across as many
// transport packets as needed with adaptation-field stuffing.
package tstest

import (
	"bytes"
	"encoding/binary"
)

const packetSize = 188

// Stream is one elementary stream entry of the PMT.
type Stream struct {
	PID        uint16
	StreamType uint8
}

// Muxer accumulates transport packets. The zero value is ready to use.
type Muxer struct {
	buf bytes.Buffer
	cc  map[uint16]uint8
}

// Bytes returns the stream written so far.
func (m *Muxer) Bytes() []byte { return m.buf.Bytes() }

// PAT writes a PAT announcing program 1 on pmtPID.
func (m *Muxer) PAT(pmtPID uint16) {
	body := []byte{0x00, 0x01, 0xC1, 0x00, 0x00} // ts id 1, version 0, current
	body = binary.BigEndian.AppendUint16(body, 1)
	body = binary.BigEndian.AppendUint16(body, 0xE000|pmtPID)
	m.section(0, 0x00, body)
}

// PMT writes the PMT of program 1 on pmtPID listing streams in order. The
// first stream carries the PCR.
func (m *Muxer) PMT(pmtPID uint16, streams ...Stream) {
	pcr := uint16(0x1FFF)
	if len(streams) > 0 {
		pcr = streams[0].PID
	}
	body := []byte{0x00, 0x01, 0xC1, 0x00, 0x00}
	body = binary.BigEndian.AppendUint16(body, 0xE000|pcr)
	body = append(body, 0xF0, 0x00) // no program descriptors
	for _, s := range streams {
		body = append(body, s.StreamType)
		body = binary.BigEndian.AppendUint16(body, 0xE000|s.PID)
		body = append(body, 0xF0, 0x00)
	}
	m.section(pmtPID, 0x02, body)
}

func (m *Muxer) section(pid uint16, tableID byte, body []byte) {
	length := len(body) + 4
	sec := []byte{tableID, 0xB0 | byte(length>>8)&0x0F, byte(length)}
	sec = append(sec, body...)
	sec = binary.BigEndian.AppendUint32(sec, crc32MPEG(sec))
	m.packets(pid, append([]byte{0x00}, sec...))
}

// PES writes one PES packet with a PTS (omitted when negative). Video
// stream ids (0xE0-0xEF) get an unbounded PES length.
func (m *Muxer) PES(pid uint16, streamID byte, pts int64, data []byte) {
	var opt []byte
	var flags byte
	if pts >= 0 {
		flags = 0x80
		opt = []byte{
			0x21 | byte((pts>>29)&0x0E),
			byte(pts >> 22),
			byte((pts>>14)&0xFE) | 0x01,
			byte(pts >> 7),
			byte((pts<<1)&0xFE) | 0x01,
		}
	}
	length := 3 + len(opt) + len(data)
	if streamID&0xF0 == 0xE0 {
		length = 0
	}
	pes := []byte{0x00, 0x00, 0x01, streamID, byte(length >> 8), byte(length), 0x80, flags, byte(len(opt))}
	pes = append(pes, opt...)
	m.packets(pid, append(pes, data...))
}

// Garbage writes n bytes that are not transport packets.
func (m *Muxer) Garbage(n int) {
	m.buf.Write(bytes.Repeat([]byte{0xA5}, n))
}

// packets splits one payload unit into transport packets.
func (m *Muxer) packets(pid uint16, payload []byte) {
	if m.cc == nil {
		m.cc = make(map[uint16]uint8)
	}
	first := true
	for first || len(payload) > 0 {
		pkt := make([]byte, 4, packetSize)
		pkt[0] = 0x47
		pkt[1] = byte(pid>>8) & 0x1F
		if first {
			pkt[1] |= 0x40
		}
		pkt[2] = byte(pid)
		pkt[3] = 0x10 | m.cc[pid]&0x0F
		m.cc[pid]++

		n := min(len(payload), packetSize-4)
		if n < packetSize-4 {
			// stuff the rest with an adaptation field
			pkt[3] |= 0x20
			afLen := packetSize - 4 - 1 - n
			pkt = append(pkt, byte(afLen))
			if afLen > 0 {
				pkt = append(pkt, 0x00)
				pkt = append(pkt, bytes.Repeat([]byte{0xFF}, afLen-1)...)
			}
		}
		pkt = append(pkt, payload[:n]...)
		payload = payload[n:]
		m.buf.Write(pkt)
		first = false
	}
}

func crc32MPEG(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc ^= uint32(b) << 24
		for range 8 {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
