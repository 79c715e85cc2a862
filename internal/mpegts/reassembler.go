package mpegts

import "slices"

// pidBuffer collects the packets of one PID until the unit they carry is
// complete: a new payload_unit_start for PES, or a whole section for PSI.
type pidBuffer struct {
	pid     uint16
	psi     func(pid uint16) bool
	packets []*Packet

	discontinuities int
}

// add buffers p and returns the packets of a completed unit, if any.
func (b *pidBuffer) add(p *Packet) []*Packet {
	if p.Header.TransportErrorIndicator {
		b.packets = nil
		return nil
	}
	if !p.Header.HasPayload {
		return nil
	}

	if n := len(b.packets); n > 0 && !p.Header.DiscontinuityIndicator {
		prev := b.packets[n-1].Header.ContinuityCounter
		if p.Header.ContinuityCounter != (prev+1)&0x0F {
			if p.Header.ContinuityCounter == prev {
				return nil // duplicate
			}
			b.discontinuities++
			b.packets = nil
		}
	}

	var done []*Packet
	if p.Header.PayloadUnitStartIndicator && len(b.packets) > 0 {
		done = b.packets
		b.packets = nil
	}
	b.packets = append(b.packets, p)

	if done == nil && b.psi(b.pid) && isPSIComplete(b.packets) {
		done = b.packets
		b.packets = nil
	}
	return done
}

func (b *pidBuffer) flush() []*Packet {
	done := b.packets
	b.packets = nil
	return done
}

// reassembler routes packets to per-PID buffers and knows which PIDs carry
// PSI sections.
type reassembler struct {
	buffers map[uint16]*pidBuffer
	pmtPIDs map[uint16]bool
}

func newReassembler() *reassembler {
	return &reassembler{
		buffers: make(map[uint16]*pidBuffer),
		pmtPIDs: make(map[uint16]bool),
	}
}

func (r *reassembler) isPSI(pid uint16) bool {
	return pid == pidPAT || r.pmtPIDs[pid]
}

func (r *reassembler) add(p *Packet) []*Packet {
	b, ok := r.buffers[p.Header.PID]
	if !ok {
		b = &pidBuffer{pid: p.Header.PID, psi: r.isPSI}
		r.buffers[p.Header.PID] = b
	}
	return b.add(p)
}

// learn records the PMT PIDs announced by a PAT.
func (r *reassembler) learn(units []*Unit) {
	for _, u := range units {
		if u.PAT == nil {
			continue
		}
		for _, prog := range u.PAT.Programs {
			r.pmtPIDs[prog.PMTPID] = true
		}
	}
}

// drain returns the partial units left at end of stream, lowest PID first
// so a PAT is seen before the PMTs it announces.
func (r *reassembler) drain() [][]*Packet {
	pids := make([]uint16, 0, len(r.buffers))
	for pid := range r.buffers {
		pids = append(pids, pid)
	}
	slices.Sort(pids)

	var all [][]*Packet
	for _, pid := range pids {
		if packets := r.buffers[pid].flush(); len(packets) > 0 {
			all = append(all, packets)
		}
	}
	return all
}

func (r *reassembler) discontinuities() int {
	n := 0
	for _, b := range r.buffers {
		n += b.discontinuities
	}
	return n
}

func joinPayloads(packets []*Packet) []byte {
	var payload []byte
	for _, p := range packets {
		payload = append(payload, p.Payload...)
	}
	return payload
}
