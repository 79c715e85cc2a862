package codectest

import (
	"github.com/zsiec/refract/internal/codec"
)

// bitWriter is the writing side of an Exp-Golomb RBSP.
type bitWriter struct {
	buf  []byte
	nbit int
}

func (w *bitWriter) u(n int, v uint) {
	for i := n - 1; i >= 0; i-- {
		if w.nbit%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v>>uint(i)&1 == 1 {
			w.buf[len(w.buf)-1] |= 0x80 >> uint(w.nbit%8)
		}
		w.nbit++
	}
}

func (w *bitWriter) ue(v uint) {
	v++
	n := 0
	for x := v; x > 1; x >>= 1 {
		n++
	}
	w.u(n, 0)
	w.u(n+1, v)
}

// trailing appends rbsp_trailing_bits.
func (w *bitWriter) trailing() []byte {
	w.u(1, 1)
	for w.nbit%8 != 0 {
		w.u(1, 0)
	}
	return w.buf
}

// escape inserts emulation prevention bytes.
func escape(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+4)
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// HEVCSPS returns a minimal Main profile HEVC SPS NAL unit (no start code)
// declaring the given picture size.
func HEVCSPS(width, height int) []byte {
	w := &bitWriter{}
	w.u(4, 0) // sps_video_parameter_set_id
	w.u(3, 0) // sps_max_sub_layers_minus1
	w.u(1, 1) // sps_temporal_id_nesting_flag
	w.u(2, 0) // general_profile_space
	w.u(1, 0) // general_tier_flag
	w.u(5, 1) // general_profile_idc: Main
	w.u(32, 0x60000000)
	w.u(24, 0xB00000)
	w.u(24, 0)
	w.u(8, 93) // level 3.1
	w.ue(0)    // sps_seq_parameter_set_id
	w.ue(1)    // chroma_format_idc 4:2:0
	w.ue(uint(width))
	w.ue(uint(height))
	w.u(1, 0) // conformance_window_flag
	w.ue(0)   // bit_depth_luma_minus8
	w.ue(0)   // bit_depth_chroma_minus8
	return append([]byte{0x42, 0x01}, escape(w.trailing())...)
}

// AccessUnit builds the Annex B bytes the fake encoder emits for one
// picture: VPS, SPS and PPS before keyframes, then an IDR_W_RADL or
// TRAIL_R slice carrying the sequence number.
func AccessUnit(p codec.EncoderParams, seq int64, key bool) []byte {
	var au []byte
	nal := func(b ...byte) {
		au = append(au, startCode...)
		au = append(au, b...)
	}
	if key {
		nal(0x40, 0x01, 0x0C, 0x01, 0xFF, 0xFF)
		nal(HEVCSPS(p.Width, p.Height)...)
		nal(0x44, 0x01, 0xC1, 0x72, 0xB4)
		nal(append([]byte{0x26, 0x01}, escape([]byte{0xAF, byte(seq >> 8), byte(seq), 0x80})...)...)
	} else {
		nal(append([]byte{0x02, 0x01}, escape([]byte{0xD0, byte(seq >> 8), byte(seq), 0x80})...)...)
	}
	return au
}
