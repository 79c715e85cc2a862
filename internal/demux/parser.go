package demux

import (
	"github.com/zsiec/refract/internal/media"
)

// MaxAccessUnitSize bounds the bytes buffered for a single access unit.
// Larger units are treated as corrupt input.
const MaxAccessUnitSize = 16 << 20

// AccessUnitParser splits an Annex B byte stream into access units (one
// coded picture each, with the parameter sets and SEI that precede it).
//
// Input arrives as arbitrary windows. Parse logically appends the window to
// bytes buffered from earlier calls and returns at most one complete access
// unit. A unit is complete once the first NAL of the next unit has been
// seen; the bytes of that NAL are reported as not consumed so the caller
// passes them again. Flush drains the tail at end of input.
type AccessUnitParser struct {
	codec   media.CodecID
	maxSize int

	pending  []byte
	scan     int   // next offset in pending to search for a start code
	offset   int64 // stream offset of pending[0]
	started  bool  // first start code seen
	seenVCL  bool
	keyframe bool
	seq      int64
}

// NewAccessUnitParser returns a parser for H.264 or HEVC Annex B input.
func NewAccessUnitParser(codec media.CodecID) (*AccessUnitParser, error) {
	if codec != media.CodecH264 && codec != media.CodecHEVC {
		return nil, media.Errorf("parser", media.ErrConfig, "no parser for codec %v", codec)
	}
	return &AccessUnitParser{codec: codec, maxSize: MaxAccessUnitSize}, nil
}

// Parse consumes a prefix of window and returns a packet when an access
// unit was completed. consumed is always between 0 and len(window). When
// pkt is nil, consumed equals len(window).
func (p *AccessUnitParser) Parse(window []byte) (consumed int, pkt *media.CodedPacket, err error) {
	base := len(p.pending)
	p.pending = append(p.pending, window...)

	sc, err := p.scanNALs(false)
	if err != nil {
		return 0, nil, err
	}
	if sc < 0 {
		if !p.started && hasNonZero(p.pending[:p.scan]) {
			return 0, nil, media.Errorf("parser", media.ErrParse,
				"garbage before first start code at offset %d", p.offset)
		}
		if len(p.pending) > p.maxSize {
			return 0, nil, media.Errorf("parser", media.ErrParse,
				"access unit at offset %d exceeds %d bytes", p.offset, p.maxSize)
		}
		return len(window), nil, nil
	}

	pkt = p.emit(sc)
	if sc < base {
		p.pending = append([]byte(nil), p.pending[sc:base]...)
		return 0, pkt, nil
	}
	p.pending = nil
	return sc - base, pkt, nil
}

// Flush returns the next buffered access unit at end of input, or nil once
// the parser holds no more data.
func (p *AccessUnitParser) Flush() (*media.CodedPacket, error) {
	if len(p.pending) == 0 {
		return nil, nil
	}
	sc, err := p.scanNALs(true)
	if err != nil {
		return nil, err
	}
	if !p.started {
		if hasNonZero(p.pending) {
			return nil, media.Errorf("parser", media.ErrParse,
				"no start code in %d trailing bytes", len(p.pending))
		}
		p.pending = nil
		return nil, nil
	}
	if sc < 0 {
		sc = len(p.pending)
	}
	pkt := p.emit(sc)
	if sc < len(p.pending) {
		p.pending = append([]byte(nil), p.pending[sc:]...)
	} else {
		p.pending = nil
	}
	return pkt, nil
}

// emit cuts pending[:sc] off as a packet and resets per-unit state. The
// caller replaces p.pending.
func (p *AccessUnitParser) emit(sc int) *media.CodedPacket {
	pkt := &media.CodedPacket{
		Data:     p.pending[:sc:sc],
		PTS:      media.NoPTS,
		DTS:      media.NoPTS,
		Keyframe: p.keyframe,
		Codec:    p.codec,
		Seq:      p.seq,
	}
	p.seq++
	p.offset += int64(sc)
	p.scan = 0
	p.seenVCL = false
	p.keyframe = false
	return pkt
}

// scanNALs walks the NAL headers in pending that have not been inspected
// yet. It returns the offset of the start code that opens the next access
// unit, or -1. Unless final is set, scanning stops at a NAL whose header
// bytes have not arrived.
func (p *AccessUnitParser) scanNALs(final bool) (int, error) {
	need := 2
	if p.codec == media.CodecHEVC {
		need = 3
	}

	buf := p.pending
	i := p.scan
	for ; i+3 <= len(buf); i++ {
		if buf[i] != 0 || buf[i+1] != 0 || buf[i+2] != 1 {
			continue
		}
		hdr := i + 3
		if hdr+need > len(buf) {
			if !final {
				break
			}
			i = len(buf)
			break
		}
		sc := i
		if sc > 0 && buf[sc-1] == 0 {
			sc--
		}
		if !p.started {
			if hasNonZero(buf[:sc]) {
				return -1, media.Errorf("parser", media.ErrParse,
					"garbage before first start code at offset %d", p.offset)
			}
			p.started = true
		}
		if buf[hdr]&0x80 != 0 {
			return -1, media.Errorf("parser", media.ErrParse,
				"forbidden_zero_bit set in NAL header at offset %d", p.offset+int64(hdr))
		}

		var vcl, startsUnit, key bool
		if p.codec == media.CodecHEVC {
			vcl, startsUnit, key = classifyHEVC(buf[hdr:])
		} else {
			vcl, startsUnit, key = classifyH264(buf[hdr:])
		}
		if p.seenVCL && startsUnit && sc > 0 {
			p.scan = sc
			return sc, nil
		}
		if vcl {
			p.seenVCL = true
			p.keyframe = p.keyframe || key
		}
		i = hdr - 1
	}
	p.scan = i
	return -1, nil
}

// classifyH264 inspects an H.264 NAL header plus the first slice byte.
// startsUnit reports whether the NAL opens a new access unit when it
// follows a VCL NAL of the current one.
func classifyH264(nal []byte) (vcl, startsUnit, key bool) {
	t := nal[0] & 0x1F
	switch {
	case IsVCL(t):
		// first_mb_in_slice == 0 is coded as a single 1 bit
		return true, nal[1]&0x80 != 0, t == NALTypeIDR
	case t >= NALTypeSEI && t <= NALTypeAUD, t >= NALTypePrefix && t <= 18:
		return false, true, false
	}
	return false, false, false
}

// classifyHEVC is classifyH264 for the 2-byte HEVC NAL header.
func classifyHEVC(nal []byte) (vcl, startsUnit, key bool) {
	t := HEVCNALType(nal[0])
	switch {
	case IsHEVCVCL(t):
		// first_slice_segment_in_pic_flag
		return true, nal[2]&0x80 != 0, IsHEVCKeyframe(t)
	case t >= HEVCNALVPS && t <= HEVCNALAUD, t == HEVCNALSEIPrefix,
		t >= 41 && t <= 44, t >= 48 && t <= 55:
		return false, true, false
	}
	return false, false, false
}

func hasNonZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return true
		}
	}
	return false
}
