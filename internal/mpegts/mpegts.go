// Package mpegts reads MPEG-2 transport streams: it discovers programs from
// the PAT and PMT and reassembles PES packets with their PTS/DTS.
package mpegts

// Stream types carried in PMT elementary stream entries.
const (
	StreamTypeMPEG2Video = 0x02
	StreamTypeAAC        = 0x0F
	StreamTypeH264       = 0x1B
	StreamTypeHEVC       = 0x24
)

// Packet is one parsed 188-byte transport packet.
type Packet struct {
	Header  PacketHeader
	Payload []byte
}

// PacketHeader holds the transport packet header fields the demuxer uses.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
}

// Unit is one demuxed table or PES packet. Exactly one of PAT, PMT or PES
// is set.
type Unit struct {
	PID uint16
	PAT *PAT
	PMT *PMT
	PES *PES
}

// PAT is a Program Association Table.
type PAT struct {
	Programs []PATProgram
}

// PATProgram maps a program number to the PID of its PMT.
type PATProgram struct {
	ProgramNumber uint16
	PMTPID        uint16
}

// PMT is a Program Map Table. Streams keep the order of the table.
type PMT struct {
	ProgramNumber uint16
	PCRPID        uint16
	Streams       []PMTStream
}

// PMTStream is one elementary stream entry of a PMT.
type PMTStream struct {
	PID        uint16
	StreamType uint8
}

// PES is a reassembled packetized elementary stream packet. PTS and DTS
// are 33-bit 90 kHz values, or -1 when absent.
type PES struct {
	StreamID uint8
	PTS      int64
	DTS      int64
	Data     []byte
}

// HasPTS reports whether the PES header carried a PTS.
func (p *PES) HasPTS() bool { return p.PTS >= 0 }
