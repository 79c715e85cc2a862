package demux

import "errors"

var errShortRBSP = errors.New("demux: RBSP data too short")

// bitReader reads big-endian bit fields and Exp-Golomb codes from an RBSP.
// The first failure is sticky: later reads return zero and err stays set,
// so parsers can read a run of fields and check err once.
type bitReader struct {
	data []byte
	pos  int
	bit  int
	err  error
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (br *bitReader) flag() bool {
	return br.u(1) == 1
}

func (br *bitReader) u(n int) uint {
	var val uint
	for i := 0; i < n; i++ {
		if br.err != nil {
			return 0
		}
		if br.pos >= len(br.data) {
			br.err = errShortRBSP
			return 0
		}
		b := uint((br.data[br.pos] >> (7 - br.bit)) & 1)
		br.bit++
		if br.bit == 8 {
			br.bit = 0
			br.pos++
		}
		val = val<<1 | b
	}
	return val
}

func (br *bitReader) ue() uint {
	zeros := 0
	for br.u(1) == 0 {
		if br.err != nil {
			return 0
		}
		zeros++
		if zeros > 31 {
			br.err = errShortRBSP
			return 0
		}
	}
	if zeros == 0 {
		return 0
	}
	return (1 << zeros) - 1 + br.u(zeros)
}

func (br *bitReader) se() int {
	v := br.ue()
	if v%2 == 0 {
		return -int(v / 2)
	}
	return int((v + 1) / 2)
}

func (br *bitReader) skipScalingList(size int) {
	last, next := 8, 8
	for j := 0; j < size && br.err == nil; j++ {
		if next != 0 {
			next = (last + br.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// removeEmulationPrevention strips 0x03 emulation prevention bytes from a
// NAL payload, producing the RBSP.
func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
			continue
		}
		out = append(out, data[i])
	}
	return out
}
