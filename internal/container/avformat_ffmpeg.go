//go:build ffmpeg

package container

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"

	"github.com/zsiec/refract/internal/media"
)

// AVFormatDemuxer reads any container libavformat can open.
type AVFormatDemuxer struct {
	fc      *astiav.FormatContext
	pkt     *astiav.Packet
	closer  *astikit.Closer
	streams []Stream
	log     *slog.Logger
	seq     int64
	closed  bool
}

// OpenAVFormat opens path and probes its streams.
func OpenAVFormat(path string, log *slog.Logger) (Demuxer, error) {
	if log == nil {
		log = slog.Default()
	}
	closer := astikit.NewCloser()
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, media.Errorf("demux", media.ErrOpen, "format context is nil")
	}
	closer.Add(fc.Free)

	if err := fc.OpenInput(path, nil, nil); err != nil {
		closer.Close()
		return nil, media.NewError("demux", media.ErrOpen, fmt.Errorf("opening %s: %w", path, err))
	}
	closer.Add(fc.CloseInput)

	if err := fc.FindStreamInfo(nil); err != nil {
		closer.Close()
		return nil, media.NewError("demux", media.ErrOpen, fmt.Errorf("probing %s: %w", path, err))
	}

	d := &AVFormatDemuxer{
		fc:     fc,
		pkt:    astiav.AllocPacket(),
		closer: closer,
		log:    log.With("component", "avformat"),
	}
	closer.Add(d.pkt.Free)

	for _, s := range fc.Streams() {
		cp := s.CodecParameters()
		st := Stream{Index: s.Index(), Kind: KindOther, CodecName: cp.CodecID().Name()}
		switch cp.MediaType() {
		case astiav.MediaTypeVideo:
			st.Kind = KindVideo
		case astiav.MediaTypeAudio:
			st.Kind = KindAudio
		}
		switch cp.CodecID() {
		case astiav.CodecIDH264:
			st.Codec = media.CodecH264
		case astiav.CodecIDHevc:
			st.Codec = media.CodecHEVC
		}
		d.streams = append(d.streams, st)
		d.log.Debug("stream", "index", st.Index, "kind", st.Kind, "codec", st.CodecName)
	}
	return d, nil
}

func (d *AVFormatDemuxer) Streams() []Stream { return d.streams }

// ReadPacket returns the next packet of any stream, io.EOF at the end.
// MP4 payloads are length-prefixed; the decoder takes them as-is together
// with the stream's extradata.
func (d *AVFormatDemuxer) ReadPacket() (*media.CodedPacket, error) {
	d.pkt.Unref()
	if err := d.fc.ReadFrame(d.pkt); err != nil {
		if errors.Is(err, astiav.ErrEof) {
			return nil, io.EOF
		}
		return nil, media.NewError("demux", media.ErrIO, err)
	}
	p := &media.CodedPacket{
		Data:        append([]byte(nil), d.pkt.Data()...),
		StreamIndex: d.pkt.StreamIndex(),
		PTS:         d.pkt.Pts(),
		DTS:         d.pkt.Dts(),
		Keyframe:    d.pkt.Flags().Has(astiav.PacketFlagKey),
		Seq:         d.seq,
	}
	if i := p.StreamIndex; i >= 0 && i < len(d.streams) {
		p.Codec = d.streams[i].Codec
	}
	d.seq++
	return p, nil
}

// Extradata returns the codec private data (avcC/hvcC) of stream index.
func (d *AVFormatDemuxer) Extradata(index int) []byte {
	for _, s := range d.fc.Streams() {
		if s.Index() == index {
			return s.CodecParameters().ExtraData()
		}
	}
	return nil
}

func (d *AVFormatDemuxer) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.closer.Close()
}
