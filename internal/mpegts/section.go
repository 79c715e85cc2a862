package mpegts

import (
	"errors"
	"fmt"
)

const (
	pidPAT     = 0x0000
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

var errCRC = errors.New("CRC32 mismatch")

// crcTable is the MPEG-2 CRC32 table (polynomial 0x04C11DB7, no reflection).
var crcTable = func() (t [256]uint32) {
	for i := range t {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

func computeCRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// verifyCRC32 checks a section that ends in its CRC32. Running the CRC over
// the whole section including the trailer yields zero when it matches.
func verifyCRC32(section []byte) error {
	if len(section) < 4 {
		return fmt.Errorf("section too short for CRC32")
	}
	if computeCRC32(section) != 0 {
		return errCRC
	}
	return nil
}

// sectionBounds walks the sections packed in a PSI payload (after the
// pointer field) and calls fn with each complete one. It returns false if
// the payload ends inside a section.
func sectionBounds(payload []byte, fn func(section []byte) error) (bool, error) {
	if len(payload) < 1 {
		return false, nil
	}
	offset := 1 + int(payload[0])
	if offset >= len(payload) {
		return false, nil
	}
	for offset < len(payload) {
		if payload[offset] == 0xFF {
			return true, nil // stuffing
		}
		if offset+3 > len(payload) {
			return false, nil
		}
		// section_syntax_indicator is 1 for PAT and PMT; zero padding
		// has it clear
		if payload[offset+1]&0x80 == 0 {
			return true, nil
		}
		end := offset + 3 + (int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2]))
		if end > len(payload) {
			return false, nil
		}
		if fn != nil {
			if err := fn(payload[offset:end]); err != nil {
				return true, err
			}
		}
		offset = end
	}
	return true, nil
}

func isPSIComplete(packets []*Packet) bool {
	complete, _ := sectionBounds(joinPayloads(packets), nil)
	return complete
}

func parsePSI(payload []byte, pid uint16) ([]*Unit, error) {
	var units []*Unit
	_, err := sectionBounds(payload, func(section []byte) error {
		switch section[0] {
		case tableIDPAT:
			pat, err := parsePAT(section)
			if err != nil {
				return err
			}
			units = append(units, &Unit{PID: pid, PAT: pat})
		case tableIDPMT:
			pmt, err := parsePMT(section)
			if err != nil {
				return err
			}
			units = append(units, &Unit{PID: pid, PMT: pmt})
		}
		return nil
	})
	return units, err
}

// parsePAT decodes a PAT section: an 8-byte header, 4-byte program
// entries and the CRC32.
func parsePAT(section []byte) (*PAT, error) {
	if err := verifyCRC32(section); err != nil {
		return nil, fmt.Errorf("mpegts: PAT %w", err)
	}
	if len(section) < 12 {
		return nil, fmt.Errorf("mpegts: PAT too short")
	}

	pat := &PAT{}
	for i := 8; i+4 <= len(section)-4; i += 4 {
		num := uint16(section[i])<<8 | uint16(section[i+1])
		if num == 0 {
			continue // network PID
		}
		pat.Programs = append(pat.Programs, PATProgram{
			ProgramNumber: num,
			PMTPID:        uint16(section[i+2]&0x1F)<<8 | uint16(section[i+3]),
		})
	}
	return pat, nil
}

// parsePMT decodes a PMT section: a 12-byte header, program descriptors,
// 5-byte stream entries with their descriptors and the CRC32.
func parsePMT(section []byte) (*PMT, error) {
	if err := verifyCRC32(section); err != nil {
		return nil, fmt.Errorf("mpegts: PMT %w", err)
	}
	if len(section) < 16 {
		return nil, fmt.Errorf("mpegts: PMT too short")
	}

	pmt := &PMT{
		ProgramNumber: uint16(section[3])<<8 | uint16(section[4]),
		PCRPID:        uint16(section[8]&0x1F)<<8 | uint16(section[9]),
	}
	end := len(section) - 4
	offset := 12 + (int(section[10]&0x0F)<<8 | int(section[11]))
	for offset+5 <= end {
		pmt.Streams = append(pmt.Streams, PMTStream{
			StreamType: section[offset],
			PID:        uint16(section[offset+1]&0x1F)<<8 | uint16(section[offset+2]),
		})
		offset += 5 + (int(section[offset+3]&0x0F)<<8 | int(section[offset+4]))
	}
	return pmt, nil
}
