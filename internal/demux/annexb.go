package demux

// NALUnit is one NAL unit from an Annex B byte stream.
type NALUnit struct {
	Type byte   // 5-bit H.264 or 6-bit HEVC NAL type
	Data []byte // NAL header and payload, without start code
}

// findStartCode returns the index of the next 0x000001 start code at or
// after from, and the offset of the NAL header that follows it. A zero byte
// immediately before the start code (the 4-byte form) is included in the
// returned start index. It returns -1, -1 when no start code is found.
func findStartCode(data []byte, from int) (start, header int) {
	for i := from; i+2 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 {
			continue
		}
		if data[i+2] != 1 {
			continue
		}
		start = i
		if start > from && data[start-1] == 0 {
			start--
		}
		return start, i + 3
	}
	return -1, -1
}

// splitAnnexB scans an Annex B stream and returns the NAL units it carries.
// minNALBytes is the NAL header length (1 for H.264, 2 for HEVC); shorter
// units are skipped.
func splitAnnexB(data []byte, minNALBytes int, nalType func([]byte) byte) []NALUnit {
	var units []NALUnit
	_, hdr := findStartCode(data, 0)
	for hdr >= 0 {
		nextStart, nextHdr := findStartCode(data, hdr)
		end := len(data)
		if nextStart >= 0 {
			end = nextStart
		}
		if nal := data[hdr:end]; len(nal) >= minNALBytes {
			units = append(units, NALUnit{Type: nalType(nal), Data: nal})
		}
		hdr = nextHdr
	}
	return units
}

// ParseAnnexB splits an H.264 Annex B byte stream into NAL units. Both
// 3-byte and 4-byte start codes are recognized.
func ParseAnnexB(data []byte) []NALUnit {
	return splitAnnexB(data, 1, func(d []byte) byte { return d[0] & 0x1F })
}

// ParseAnnexBHEVC splits an HEVC Annex B byte stream into NAL units using
// the 2-byte HEVC NAL header for the type.
func ParseAnnexBHEVC(data []byte) []NALUnit {
	return splitAnnexB(data, 2, func(d []byte) byte { return HEVCNALType(d[0]) })
}
