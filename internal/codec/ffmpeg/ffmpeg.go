//go:build ffmpeg

// Package ffmpeg implements codec sessions on libavcodec through go-astiav.
// Without the ffmpeg build tag the package compiles to a stub whose
// sessions fail with media.ErrConfig.
package ffmpeg

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"

	"github.com/zsiec/refract/internal/codec"
	"github.com/zsiec/refract/internal/media"
)

// Available reports whether the binary was built with libav support.
const Available = true

// Backend opens libavcodec sessions.
type Backend struct {
	log *slog.Logger
}

var _ codec.Backend = (*Backend)(nil)

// New returns a libavcodec backend. A nil logger uses slog.Default().
func New(log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	return &Backend{log: log.With("component", "ffmpeg")}
}

func (b *Backend) Name() string { return "ffmpeg" }

func codecID(c media.CodecID) (astiav.CodecID, bool) {
	switch c {
	case media.CodecH264:
		return astiav.CodecIDH264, true
	case media.CodecHEVC:
		return astiav.CodecIDHevc, true
	}
	return 0, false
}

func fromCodecID(id astiav.CodecID) media.CodecID {
	switch id {
	case astiav.CodecIDH264:
		return media.CodecH264
	case astiav.CodecIDHevc:
		return media.CodecHEVC
	}
	return media.CodecUnknown
}

func pixelFormat(pf media.PixelFormat) (astiav.PixelFormat, error) {
	switch pf {
	case media.PixelFormatYUV420P:
		return astiav.PixelFormatYuv420P, nil
	}
	return 0, fmt.Errorf("unsupported pixel format %q", pf)
}

func (b *Backend) HasDecoder(c media.CodecID) bool {
	id, ok := codecID(c)
	return ok && astiav.FindDecoder(id) != nil
}

// NewDecoder opens a decoder for c.
func (b *Backend) NewDecoder(c media.CodecID, p codec.DecoderParams) (codec.Decoder, error) {
	id, ok := codecID(c)
	if !ok {
		return nil, media.Errorf("decoder", media.ErrConfig, "no decoder for %v", c)
	}
	dec := astiav.FindDecoder(id)
	if dec == nil {
		return nil, media.Errorf("decoder", media.ErrConfig, "libavcodec has no %v decoder", c)
	}

	closer := astikit.NewCloser()
	cc := astiav.AllocCodecContext(dec)
	if cc == nil {
		return nil, media.Errorf("decoder", media.ErrOpen, "codec context is nil")
	}
	closer.Add(cc.Free)

	if len(p.Extradata) > 0 {
		if err := cc.SetExtraData(p.Extradata); err != nil {
			closer.Close()
			return nil, media.NewError("decoder", media.ErrOpen, fmt.Errorf("setting extradata: %w", err))
		}
	}
	if p.Threads > 0 {
		cc.SetThreadCount(p.Threads)
	}
	if err := cc.Open(dec, nil); err != nil {
		closer.Close()
		return nil, media.NewError("decoder", media.ErrOpen, fmt.Errorf("opening %s: %w", dec.Name(), err))
	}

	pkt := astiav.AllocPacket()
	closer.Add(pkt.Free)
	b.log.Debug("decoder opened", "codec", dec.Name())
	return &decoder{cc: cc, pkt: pkt, closer: closer}, nil
}

// NewEncoder opens an encoder configured from p.
func (b *Backend) NewEncoder(p codec.EncoderParams) (codec.Encoder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	id, ok := codecID(p.Codec)
	if !ok {
		return nil, media.Errorf("encoder", media.ErrConfig, "no encoder for %v", p.Codec)
	}
	enc := astiav.FindEncoder(id)
	if enc == nil {
		return nil, media.Errorf("encoder", media.ErrConfig, "libavcodec has no %v encoder", p.Codec)
	}
	pf, err := pixelFormat(p.PixelFormat)
	if err != nil {
		return nil, media.NewError("encoder", media.ErrConfig, err)
	}

	closer := astikit.NewCloser()
	cc := astiav.AllocCodecContext(enc)
	if cc == nil {
		return nil, media.Errorf("encoder", media.ErrOpen, "codec context is nil")
	}
	closer.Add(cc.Free)

	cc.SetBitRate(p.BitRate)
	cc.SetWidth(p.Width)
	cc.SetHeight(p.Height)
	cc.SetTimeBase(astiav.NewRational(p.TimeBase.Num, p.TimeBase.Den))
	cc.SetFramerate(astiav.NewRational(p.FrameRate.Num, p.FrameRate.Den))
	cc.SetGopSize(p.GOPSize)
	cc.SetMaxBFrames(p.MaxBFrames)
	cc.SetPixelFormat(pf)

	opts := astiav.NewDictionary()
	defer opts.Free()
	for k, v := range map[string]string{"preset": p.Preset, "tune": p.Tune} {
		if v == "" {
			continue
		}
		if err := opts.Set(k, v, astiav.NewDictionaryFlags()); err != nil {
			closer.Close()
			return nil, media.NewError("encoder", media.ErrConfig, fmt.Errorf("setting %s: %w", k, err))
		}
	}
	if err := cc.Open(enc, opts); err != nil {
		closer.Close()
		return nil, media.NewError("encoder", media.ErrOpen, fmt.Errorf("opening %s: %w", enc.Name(), err))
	}

	pkt := astiav.AllocPacket()
	closer.Add(pkt.Free)
	b.log.Debug("encoder opened", "codec", enc.Name(), "size", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"bitrate", p.BitRate, "preset", p.Preset, "tune", p.Tune)
	return &encoder{cc: cc, pkt: pkt, closer: closer}, nil
}

// mapErr turns libav's EAGAIN and EOF into the session signals.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, astiav.ErrEagain):
		return codec.ErrAgain
	case errors.Is(err, astiav.ErrEof):
		return codec.ErrEOF
	}
	return err
}

type decoder struct {
	cc     *astiav.CodecContext
	pkt    *astiav.Packet
	closer *astikit.Closer
	frames int64
}

func (d *decoder) SendPacket(p *media.CodedPacket) error {
	if p == nil {
		return mapErr(d.cc.SendPacket(nil))
	}
	d.pkt.Unref()
	if err := d.pkt.FromData(p.Data); err != nil {
		return fmt.Errorf("packet %d: %w", p.Seq, err)
	}
	if p.PTS != media.NoPTS {
		d.pkt.SetPts(p.PTS)
	}
	if p.DTS != media.NoPTS {
		d.pkt.SetDts(p.DTS)
	}
	return mapErr(d.cc.SendPacket(d.pkt))
}

func (d *decoder) ReceiveFrame() (*media.DecodedFrame, error) {
	f := astiav.AllocFrame()
	if err := d.cc.ReceiveFrame(f); err != nil {
		f.Free()
		return nil, mapErr(err)
	}
	out := media.NewDecodedFrame(f.Width(), f.Height(), media.PixelFormat(f.PixelFormat().String()), f, f.Free)
	out.FrameNumber = d.frames
	out.PTS = f.Pts()
	d.frames++
	return out, nil
}

func (d *decoder) Close() error {
	return d.closer.Close()
}

type encoder struct {
	cc     *astiav.CodecContext
	pkt    *astiav.Packet
	closer *astikit.Closer
	seq    int64
}

func (e *encoder) SendFrame(f *media.DecodedFrame) error {
	if f == nil {
		return mapErr(e.cc.SendFrame(nil))
	}
	af, ok := f.Opaque.(*astiav.Frame)
	if !ok {
		return fmt.Errorf("frame %d was not decoded by libavcodec", f.FrameNumber)
	}
	// let the encoder pick the picture type; the decoder's I/P/B choice
	// would otherwise be forced on it
	af.SetPictureType(astiav.PictureTypeNone)
	af.SetPts(f.FrameNumber)
	return mapErr(e.cc.SendFrame(af))
}

func (e *encoder) ReceivePacket() (*media.EncodedPacket, error) {
	e.pkt.Unref()
	if err := e.cc.ReceivePacket(e.pkt); err != nil {
		return nil, mapErr(err)
	}
	out := &media.EncodedPacket{
		Data:     append([]byte(nil), e.pkt.Data()...),
		PTS:      e.pkt.Pts(),
		DTS:      e.pkt.Dts(),
		Keyframe: e.pkt.Flags().Has(astiav.PacketFlagKey),
		Seq:      e.seq,
	}
	e.seq++
	return out, nil
}

func (e *encoder) Close() error {
	return e.closer.Close()
}
