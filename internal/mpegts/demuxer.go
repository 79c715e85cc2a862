package mpegts

import (
	"context"
	"errors"
	"io"
)

// Stats counts what the demuxer has seen so far.
type Stats struct {
	Packets         int64 // transport packets read
	Corrupt         int64 // packets dropped for a bad sync byte
	Discontinuities int   // continuity counter jumps
}

// Demuxer reads transport packets from a reader and returns demuxed units
// in stream order.
type Demuxer struct {
	ctx     context.Context
	reader  io.Reader
	readBuf []byte
	asm     *reassembler
	queue   []*Unit
	eof     bool
	stats   Stats
}

// NewDemuxer creates a demuxer reading 188-byte packets from r. ctx is
// checked before every packet read.
func NewDemuxer(ctx context.Context, r io.Reader) *Demuxer {
	return &Demuxer{
		ctx:     ctx,
		reader:  r,
		readBuf: make([]byte, packetSize),
		asm:     newReassembler(),
	}
}

// Stats returns the packet counters.
func (d *Demuxer) Stats() Stats {
	s := d.stats
	s.Discontinuities = d.asm.discontinuities()
	return s
}

// Next returns the next demuxed unit, or io.EOF once the stream and the
// partial units left at its end are exhausted.
func (d *Demuxer) Next() (*Unit, error) {
	for {
		if len(d.queue) > 0 {
			u := d.queue[0]
			d.queue = d.queue[1:]
			return u, nil
		}
		if d.eof {
			return nil, io.EOF
		}
		if err := d.ctx.Err(); err != nil {
			return nil, err
		}

		if _, err := io.ReadFull(d.reader, d.readBuf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				d.eof = true
				for _, packets := range d.asm.drain() {
					d.enqueue(packets)
				}
				continue
			}
			return nil, err
		}
		d.stats.Packets++

		pkt, err := parsePacket(d.readBuf)
		if err != nil {
			d.stats.Corrupt++
			continue
		}
		if done := d.asm.add(pkt); done != nil {
			d.enqueue(done)
		}
	}
}

// enqueue decodes one completed unit. Units that fail to parse are
// dropped like corrupt packets.
func (d *Demuxer) enqueue(packets []*Packet) {
	pid := packets[0].Header.PID
	payload := joinPayloads(packets)
	if len(payload) == 0 {
		return
	}

	if d.asm.isPSI(pid) {
		units, err := parsePSI(payload, pid)
		if err != nil {
			return
		}
		d.asm.learn(units)
		d.queue = append(d.queue, units...)
		return
	}
	if isPESPayload(payload) {
		pes, err := parsePES(payload)
		if err != nil {
			return
		}
		d.queue = append(d.queue, &Unit{PID: pid, PES: pes})
	}
}
