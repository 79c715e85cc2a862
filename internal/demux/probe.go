package demux

import "github.com/zsiec/refract/internal/media"

// Probe guesses the bitstream syntax of an Annex B prefix by checking every
// complete NAL header against both H.264 and HEVC header rules. H.264 wins
// when both fit. Input without any start code and without non-zero bytes
// (including empty input) is reported as H.264; anything else that fits
// neither syntax is a configuration error.
func Probe(data []byte) (media.CodecID, error) {
	nalus := splitAnnexB(data, 1, func(d []byte) byte { return d[0] })
	if len(nalus) == 0 {
		if hasNonZero(data) {
			return media.CodecUnknown, media.Errorf("probe", media.ErrConfig, "no Annex B start code in %d bytes", len(data))
		}
		return media.CodecH264, nil
	}

	h264, hevc := true, true
	for i, n := range nalus {
		last := i == len(nalus)-1
		h264 = h264 && validH264Header(n.Data)
		if len(n.Data) >= 2 {
			hevc = hevc && validHEVCHeader(n.Data)
		} else if !last {
			hevc = false
		}
	}
	switch {
	case h264:
		return media.CodecH264, nil
	case hevc:
		return media.CodecHEVC, nil
	}
	return media.CodecUnknown, media.Errorf("probe", media.ErrConfig, "stream is neither H.264 nor HEVC Annex B")
}

func validH264Header(nal []byte) bool {
	if nal[0]&0x80 != 0 {
		return false
	}
	t := nal[0] & 0x1F
	refIdc := nal[0] >> 5
	switch t {
	case NALTypeIDR, NALTypeSPS, NALTypePPS:
		return refIdc != 0
	case NALTypeSEI, NALTypeAUD, NALTypeEndSeq, NALTypeEndStream, NALTypeFillerData:
		return refIdc == 0
	}
	return (t >= 1 && t <= 15) || (t >= 19 && t <= 21)
}

func validHEVCHeader(nal []byte) bool {
	if nal[0]&0x80 != 0 {
		return false
	}
	if nal[1]&0x07 == 0 { // nuh_temporal_id_plus1
		return false
	}
	t := HEVCNALType(nal[0])
	switch {
	case t <= 9, t >= 16 && t <= 21, t >= 32 && t <= 40:
		return true
	}
	return false
}
