package pipeline

import (
	"github.com/zsiec/refract/internal/demux"
	"github.com/zsiec/refract/internal/media"
)

// inspectLimit bounds how many input packets are searched for an SPS.
// Container inputs with length-prefixed payloads never yield one.
const inspectLimit = 300

// videoInfo is what an SPS says about a stream.
type videoInfo struct {
	Codec  string // RFC 6381 codec string
	Width  int
	Height int
}

// scanAccessUnit walks the Annex B NAL units of one access unit. It
// reports the first parseable SPS and whether the unit holds an IDR/IRAP
// picture.
func scanAccessUnit(c media.CodecID, data []byte) (info videoInfo, hasSPS, key bool) {
	switch c {
	case media.CodecH264:
		for _, n := range demux.ParseAnnexB(data) {
			switch {
			case demux.IsKeyframe(n.Type):
				key = true
			case demux.IsSPS(n.Type) && !hasSPS:
				if s, err := demux.ParseSPS(n.Data); err == nil {
					info, hasSPS = videoInfo{s.CodecString(), s.Width, s.Height}, true
				}
			}
		}
	case media.CodecHEVC:
		for _, n := range demux.ParseAnnexBHEVC(data) {
			switch {
			case demux.IsHEVCKeyframe(n.Type):
				key = true
			case demux.IsHEVCSPS(n.Type) && !hasSPS:
				if s, err := demux.ParseHEVCSPS(n.Data); err == nil {
					info, hasSPS = videoInfo{s.CodecString(), s.Width, s.Height}, true
				}
			}
		}
	}
	return info, hasSPS, key
}

func (d *Driver) inspectInput(pkt *media.CodedPacket) {
	if d.inputLogged || d.packetsRead.Load() > inspectLimit {
		return
	}
	info, ok, _ := scanAccessUnit(pkt.Codec, pkt.Data)
	if !ok {
		return
	}
	d.inputLogged = true
	d.log.Info("input stream", "codec", info.Codec, "width", info.Width, "height", info.Height)
}

func (d *Driver) inspectOutput(pkt *media.EncodedPacket) {
	info, ok, key := scanAccessUnit(d.cfg.Encoder.Codec, pkt.Data)
	if key {
		d.keyframesWritten.Add(1)
	}
	if !ok || d.outputLogged {
		return
	}
	d.outputLogged = true
	d.log.Info("output stream", "codec", info.Codec, "width", info.Width, "height", info.Height)
	if p := d.cfg.Encoder; info.Width != p.Width || info.Height != p.Height {
		d.log.Warn("encoder produced a different size than configured",
			"coded_width", info.Width, "coded_height", info.Height,
			"width", p.Width, "height", p.Height)
	}
}
