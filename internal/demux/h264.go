package demux

import "fmt"

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	NALTypeSlice      = 1
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeEndSeq     = 10
	NALTypeEndStream  = 11
	NALTypeFillerData = 12
	NALTypePrefix     = 14
)

// SPSInfo holds the fields of an H.264 sequence parameter set that the
// pipeline cares about: coded picture size and profile/level.
type SPSInfo struct {
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte
}

// CodecString returns the RFC 6381 codec parameter string, e.g. "avc1.42E01E".
func (s SPSInfo) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

// IsVCL reports whether an H.264 NAL type carries slice data.
func IsVCL(nalType byte) bool {
	return nalType >= NALTypeSlice && nalType <= NALTypeIDR
}

// IsKeyframe reports whether the NAL type is an IDR slice.
func IsKeyframe(nalType byte) bool {
	return nalType == NALTypeIDR
}

func IsSPS(nalType byte) bool { return nalType == NALTypeSPS }

func IsPPS(nalType byte) bool { return nalType == NALTypePPS }

func hasHighProfileFields(profileIDC uint) bool {
	switch profileIDC {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	}
	return false
}

// ParseSPS parses an H.264 SPS NAL unit (header byte included, start code
// excluded) and returns the cropped picture size and profile/level.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, errShortRBSP
	}
	br := newBitReader(removeEmulationPrevention(nalu[1:]))

	profileIDC := br.u(8)
	constraintFlags := br.u(8)
	levelIDC := br.u(8)
	br.ue() // seq_parameter_set_id

	chromaFormatIDC := uint(1)
	separateColourPlane := false
	if hasHighProfileFields(profileIDC) {
		chromaFormatIDC = br.ue()
		if chromaFormatIDC == 3 {
			separateColourPlane = br.flag()
		}
		br.ue() // bit_depth_luma_minus8
		br.ue() // bit_depth_chroma_minus8
		br.u(1) // qpprime_y_zero_transform_bypass_flag
		if br.flag() {
			lists := 8
			if chromaFormatIDC == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if !br.flag() {
					continue
				}
				if i < 6 {
					br.skipScalingList(16)
				} else {
					br.skipScalingList(64)
				}
			}
		}
	}

	br.ue() // log2_max_frame_num_minus4
	switch br.ue() {
	case 0:
		br.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		br.u(1)
		br.se()
		br.se()
		n := br.ue()
		for i := uint(0); i < n && br.err == nil; i++ {
			br.se()
		}
	}
	br.ue() // max_num_ref_frames
	br.u(1) // gaps_in_frame_num_value_allowed_flag

	widthMbs := br.ue() + 1
	heightMapUnits := br.ue() + 1
	frameMbsOnly := br.u(1)
	if frameMbsOnly == 0 {
		br.u(1) // mb_adaptive_frame_field_flag
	}
	br.u(1) // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint
	if br.flag() {
		cropLeft, cropRight = br.ue(), br.ue()
		cropTop, cropBottom = br.ue(), br.ue()
	}
	if br.err != nil {
		return SPSInfo{}, br.err
	}

	subWidthC, subHeightC := uint(2), uint(2)
	switch {
	case separateColourPlane, chromaFormatIDC == 0, chromaFormatIDC == 3:
		subWidthC, subHeightC = 1, 1
	case chromaFormatIDC == 2:
		subHeightC = 1
	}
	cropUnitY := subHeightC * (2 - frameMbsOnly)

	return SPSInfo{
		Width:           int(widthMbs*16 - subWidthC*(cropLeft+cropRight)),
		Height:          int(heightMapUnits*16*(2-frameMbsOnly) - cropUnitY*(cropTop+cropBottom)),
		ProfileIDC:      byte(profileIDC),
		ConstraintFlags: byte(constraintFlags),
		LevelIDC:        byte(levelIDC),
	}, nil
}
