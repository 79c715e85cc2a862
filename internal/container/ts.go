package container

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/zsiec/refract/internal/demux"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/mpegts"
)

// TSDemuxer reads the first program of an MPEG transport stream.
type TSDemuxer struct {
	rc      io.ReadCloser
	dmx     *mpegts.Demuxer
	log     *slog.Logger
	streams []Stream
	byPID   map[uint16]int
	early   []*mpegts.Unit // PES units read before the PMT
	seq     int64
}

// OpenTS reads rc until the first PMT so Streams is known on return. PES
// packets that arrive before the PMT are kept and returned first. It fails
// with media.ErrOpen when the stream ends without a PMT.
func OpenTS(ctx context.Context, rc io.ReadCloser, log *slog.Logger) (*TSDemuxer, error) {
	if log == nil {
		log = slog.Default()
	}
	d := &TSDemuxer{
		rc:    rc,
		dmx:   mpegts.NewDemuxer(ctx, rc),
		log:   log.With("component", "ts-demux"),
		byPID: make(map[uint16]int),
	}

	for {
		u, err := d.dmx.Next()
		if errors.Is(err, io.EOF) {
			return nil, media.Errorf("demux", media.ErrOpen, "no PMT found in transport stream")
		}
		if err != nil {
			return nil, media.NewError("demux", media.ErrIO, err)
		}
		if u.PES != nil {
			d.early = append(d.early, u)
			continue
		}
		if u.PMT != nil {
			d.setPMT(u.PMT)
			return d, nil
		}
	}
}

func (d *TSDemuxer) setPMT(pmt *mpegts.PMT) {
	for i, es := range pmt.Streams {
		s := Stream{Index: i, PID: es.PID, Kind: KindOther, CodecName: "unknown"}
		switch es.StreamType {
		case mpegts.StreamTypeH264:
			s.Kind, s.Codec, s.CodecName = KindVideo, media.CodecH264, "h264"
		case mpegts.StreamTypeHEVC:
			s.Kind, s.Codec, s.CodecName = KindVideo, media.CodecHEVC, "hevc"
		case mpegts.StreamTypeMPEG2Video:
			s.Kind, s.CodecName = KindVideo, "mpeg2video"
		case mpegts.StreamTypeAAC:
			s.Kind, s.CodecName = KindAudio, "aac"
		}
		d.streams = append(d.streams, s)
		d.byPID[es.PID] = i
		d.log.Debug("stream", "index", i, "pid", es.PID, "kind", s.Kind, "codec", s.CodecName)
	}
}

// Streams returns the elementary streams of the first PMT in table order.
func (d *TSDemuxer) Streams() []Stream { return d.streams }

// Stats exposes the transport packet counters.
func (d *TSDemuxer) Stats() mpegts.Stats { return d.dmx.Stats() }

// ReadPacket returns the next PES packet of a PMT stream as a coded packet.
// PES packets on PIDs outside the PMT are skipped.
func (d *TSDemuxer) ReadPacket() (*media.CodedPacket, error) {
	for {
		var u *mpegts.Unit
		if len(d.early) > 0 {
			u, d.early = d.early[0], d.early[1:]
		} else {
			var err error
			if u, err = d.dmx.Next(); err != nil {
				if errors.Is(err, io.EOF) {
					return nil, io.EOF
				}
				return nil, media.NewError("demux", media.ErrIO, err)
			}
		}
		if u.PES == nil {
			continue
		}
		idx, ok := d.byPID[u.PID]
		if !ok {
			continue
		}

		s := d.streams[idx]
		pkt := &media.CodedPacket{
			Data:        u.PES.Data,
			StreamIndex: idx,
			PTS:         media.NoPTS,
			DTS:         media.NoPTS,
			Codec:       s.Codec,
			Seq:         d.seq,
		}
		if u.PES.HasPTS() {
			pkt.PTS, pkt.DTS = u.PES.PTS, u.PES.PTS
		}
		if u.PES.DTS >= 0 {
			pkt.DTS = u.PES.DTS
		}
		if s.Kind == KindVideo {
			pkt.Keyframe = containsKeyframe(s.Codec, pkt.Data)
		}
		d.seq++
		return pkt, nil
	}
}

// Close closes the underlying reader.
func (d *TSDemuxer) Close() error {
	return d.rc.Close()
}

func containsKeyframe(codec media.CodecID, data []byte) bool {
	switch codec {
	case media.CodecH264:
		for _, n := range demux.ParseAnnexB(data) {
			if demux.IsKeyframe(n.Type) {
				return true
			}
		}
	case media.CodecHEVC:
		for _, n := range demux.ParseAnnexBHEVC(data) {
			if demux.IsHEVCKeyframe(n.Type) {
				return true
			}
		}
	}
	return false
}
