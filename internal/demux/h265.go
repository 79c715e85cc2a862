package demux

import (
	"fmt"
	"math/bits"
)

// HEVC NAL unit types (ITU-T H.265 Table 7-1).
const (
	HEVCNALBlaWLP     = 16
	HEVCNALIDRWRadl   = 19
	HEVCNALIDRNlp     = 20
	HEVCNALCraNut     = 21
	HEVCNALVPS        = 32
	HEVCNALSPS        = 33
	HEVCNALPPS        = 34
	HEVCNALAUD        = 35
	HEVCNALEOS        = 36
	HEVCNALEOB        = 37
	HEVCNALFillerData = 38
	HEVCNALSEIPrefix  = 39
	HEVCNALSEISuffix  = 40
)

// HEVCNALType extracts the NAL unit type from the first byte of the 2-byte
// HEVC NAL header.
func HEVCNALType(firstByte byte) byte {
	return (firstByte >> 1) & 0x3F
}

// IsHEVCVCL reports whether an HEVC NAL type carries slice segment data.
func IsHEVCVCL(nalType byte) bool {
	return nalType < 32
}

// IsHEVCKeyframe reports whether the NAL type is an IRAP picture (BLA, IDR
// or CRA).
func IsHEVCKeyframe(nalType byte) bool {
	return nalType >= HEVCNALBlaWLP && nalType <= HEVCNALCraNut
}

func IsHEVCVPS(nalType byte) bool { return nalType == HEVCNALVPS }

func IsHEVCSPS(nalType byte) bool { return nalType == HEVCNALSPS }

func IsHEVCPPS(nalType byte) bool { return nalType == HEVCNALPPS }

// HEVCSPSInfo holds the fields of an HEVC SPS used to inspect encoder output.
type HEVCSPSInfo struct {
	Width      int
	Height     int
	ProfileIDC byte
	TierFlag   byte
	LevelIDC   byte

	ProfileCompatibilityFlags uint32
	ConstraintIndicatorFlags  uint64

	ChromaFormatIdc      byte
	BitDepthLumaMinus8   byte
	BitDepthChromaMinus8 byte
}

// CodecString returns the RFC 6381 codec parameter string, e.g.
// "hev1.1.6.L93.B0".
func (s HEVCSPSInfo) CodecString() string {
	tier := "L"
	if s.TierFlag == 1 {
		tier = "H"
	}

	var constraint [6]byte
	last := -1
	for i := range constraint {
		constraint[i] = byte(s.ConstraintIndicatorFlags >> uint((5-i)*8))
		if constraint[i] != 0 {
			last = i
		}
	}

	codec := fmt.Sprintf("hev1.%d.%X.%s%d", s.ProfileIDC, bits.Reverse32(s.ProfileCompatibilityFlags), tier, s.LevelIDC)
	for i := 0; i <= last; i++ {
		codec += fmt.Sprintf(".%X", constraint[i])
	}
	return codec
}

// ParseHEVCSPS parses an HEVC SPS NAL unit (2-byte header included, start
// code excluded). Fields after the picture size are best effort: a stream
// truncated there still yields the size.
func ParseHEVCSPS(nalu []byte) (HEVCSPSInfo, error) {
	if len(nalu) < 4 {
		return HEVCSPSInfo{}, errShortRBSP
	}
	br := newBitReader(removeEmulationPrevention(nalu[2:]))

	br.u(4) // sps_video_parameter_set_id
	maxSubLayersMinus1 := br.u(3)
	br.u(1) // sps_temporal_id_nesting_flag

	var info HEVCSPSInfo
	parseHEVCProfileTierLevel(br, &info, maxSubLayersMinus1)

	br.ue() // sps_seq_parameter_set_id
	chroma := br.ue()
	if chroma == 3 {
		br.u(1) // separate_colour_plane_flag
	}
	width, height := br.ue(), br.ue()
	if br.err != nil {
		return HEVCSPSInfo{}, br.err
	}
	info.ChromaFormatIdc = byte(chroma)
	info.Width, info.Height = int(width), int(height)

	if br.flag() {
		left, right, top, bottom := br.ue(), br.ue(), br.ue(), br.ue()
		if br.err != nil {
			return info, nil
		}
		subWidthC, subHeightC := uint(1), uint(1)
		switch chroma {
		case 1:
			subWidthC, subHeightC = 2, 2
		case 2:
			subWidthC = 2
		}
		info.Width -= int((left + right) * subWidthC)
		info.Height -= int((top + bottom) * subHeightC)
	}

	bdl, bdc := br.ue(), br.ue()
	if br.err == nil {
		info.BitDepthLumaMinus8 = byte(bdl)
		info.BitDepthChromaMinus8 = byte(bdc)
	}
	return info, nil
}

func parseHEVCProfileTierLevel(br *bitReader, info *HEVCSPSInfo, maxSubLayersMinus1 uint) {
	br.u(2) // general_profile_space
	info.TierFlag = byte(br.u(1))
	info.ProfileIDC = byte(br.u(5))
	info.ProfileCompatibilityFlags = uint32(br.u(32))
	info.ConstraintIndicatorFlags = uint64(br.u(24))<<24 | uint64(br.u(24))
	info.LevelIDC = byte(br.u(8))

	if maxSubLayersMinus1 == 0 {
		return
	}
	var profilePresent, levelPresent [8]bool
	for i := uint(0); i < maxSubLayersMinus1; i++ {
		profilePresent[i] = br.flag()
		levelPresent[i] = br.flag()
	}
	for i := maxSubLayersMinus1; i < 8; i++ {
		br.u(2) // reserved_zero_2bits
	}
	for i := uint(0); i < maxSubLayersMinus1; i++ {
		if profilePresent[i] {
			br.u(32)
			br.u(32)
			br.u(24)
		}
		if levelPresent[i] {
			br.u(8)
		}
	}
}
