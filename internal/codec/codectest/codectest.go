// Package codectest provides deterministic in-memory codec sessions for
// tests. The fake decoder turns every packet into one frame and the fake
// encoder turns every frame into one HEVC Annex B access unit. Both can
// hold back output, refuse input while their queue is full and fail on a
// chosen unit.
package codectest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zsiec/refract/internal/codec"
	"github.com/zsiec/refract/internal/demux"
	"github.com/zsiec/refract/internal/media"
)

// ErrInjected is returned by a session at its configured failure point.
var ErrInjected = errors.New("codectest: injected failure")

// DecoderConfig shapes the fake decoder.
type DecoderConfig struct {
	Width, Height int               // frame size until an SPS says otherwise
	PixelFormat   media.PixelFormat // defaults to yuv420p
	Delay         int               // packets held before the first frame
	BlockEvery    int               // every n-th packet is refused once with ErrAgain; 0 = never
	FailAt        int               // fail the n-th SendPacket (1-based); 0 = never
	FailClose     bool
}

// EncoderConfig shapes the fake encoder.
type EncoderConfig struct {
	Delay      int // frames held before the first packet
	BlockEvery int // every n-th frame is refused once with ErrAgain; 0 = never
	FailAt     int // fail the n-th SendFrame (1-based); 0 = never
	FailClose  bool
}

// Backend opens fake sessions and records them for inspection.
type Backend struct {
	Decoder DecoderConfig
	Encoder EncoderConfig
	// NoDecoder lists codecs HasDecoder reports as missing.
	NoDecoder []media.CodecID
	// FailOpen makes NewEncoder fail with media.ErrOpen.
	FailOpen bool

	mu       sync.Mutex
	decoders []*Decoder
	encoders []*Encoder
}

var _ codec.Backend = (*Backend)(nil)

func (b *Backend) Name() string { return "codectest" }

func (b *Backend) HasDecoder(c media.CodecID) bool {
	if c != media.CodecH264 && c != media.CodecHEVC {
		return false
	}
	for _, n := range b.NoDecoder {
		if n == c {
			return false
		}
	}
	return true
}

func (b *Backend) NewDecoder(c media.CodecID, _ codec.DecoderParams) (codec.Decoder, error) {
	if !b.HasDecoder(c) {
		return nil, media.Errorf("decoder", media.ErrConfig, "no decoder for %v", c)
	}
	d := &Decoder{cfg: b.Decoder, codec: c}
	if d.cfg.Width == 0 || d.cfg.Height == 0 {
		d.cfg.Width, d.cfg.Height = 1920, 1080
	}
	if d.cfg.PixelFormat == "" {
		d.cfg.PixelFormat = media.PixelFormatYUV420P
	}
	b.mu.Lock()
	b.decoders = append(b.decoders, d)
	b.mu.Unlock()
	return d, nil
}

func (b *Backend) NewEncoder(p codec.EncoderParams) (codec.Encoder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if b.FailOpen {
		return nil, media.Errorf("encoder", media.ErrOpen, "%w", ErrInjected)
	}
	e := &Encoder{cfg: b.Encoder, params: p}
	b.mu.Lock()
	b.encoders = append(b.encoders, e)
	b.mu.Unlock()
	return e, nil
}

// Decoders returns the decoder sessions opened so far.
func (b *Backend) Decoders() []*Decoder {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Decoder(nil), b.decoders...)
}

// Encoders returns the encoder sessions opened so far.
func (b *Backend) Encoders() []*Encoder {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Encoder(nil), b.encoders...)
}

// refuse decides whether the next unit (number sends+1) is refused. Each
// n-th unit is refused once; the retry goes through.
func refuse(every, sends int, blocked *bool) bool {
	if every <= 0 || (sends+1)%every != 0 {
		return false
	}
	if *blocked {
		*blocked = false
		return false
	}
	*blocked = true
	return true
}

// Decoder is a fake decoding session.
type Decoder struct {
	cfg   DecoderConfig
	codec media.CodecID

	held     []*media.DecodedFrame // waiting for Delay to be satisfied
	ready    []*media.DecodedFrame
	sends    int
	blocked  bool
	frames   int64
	flushing bool
	closed   bool

	// Released counts frames whose Release was called.
	Released int
	// Blocked counts SendPacket calls refused with ErrAgain.
	Blocked int
	// Packets records the data of every accepted packet.
	Packets [][]byte
}

func (d *Decoder) SendPacket(pkt *media.CodedPacket) error {
	if d.closed {
		return errors.New("codectest: decoder closed")
	}
	if pkt == nil {
		if d.flushing {
			return codec.ErrEOF
		}
		d.flushing = true
		d.ready = append(d.ready, d.held...)
		d.held = nil
		return nil
	}
	if d.flushing {
		return errors.New("codectest: packet after flush")
	}
	if refuse(d.cfg.BlockEvery, d.sends, &d.blocked) {
		d.Blocked++
		return codec.ErrAgain
	}
	d.sends++
	if d.cfg.FailAt > 0 && d.sends == d.cfg.FailAt {
		return fmt.Errorf("packet %d: %w", pkt.Seq, ErrInjected)
	}

	d.Packets = append(d.Packets, append([]byte(nil), pkt.Data...))
	d.learnSize(pkt.Data)
	f := media.NewDecodedFrame(d.cfg.Width, d.cfg.Height, d.cfg.PixelFormat, pkt.Seq, func() { d.Released++ })
	f.FrameNumber = d.frames
	f.PTS = pkt.PTS
	d.frames++

	d.held = append(d.held, f)
	if len(d.held) > d.cfg.Delay {
		d.ready = append(d.ready, d.held[0])
		d.held = d.held[1:]
	}
	return nil
}

// learnSize takes the frame size from an SPS in the packet, if any.
func (d *Decoder) learnSize(data []byte) {
	switch d.codec {
	case media.CodecH264:
		for _, n := range demux.ParseAnnexB(data) {
			if demux.IsSPS(n.Type) {
				if info, err := demux.ParseSPS(n.Data); err == nil {
					d.cfg.Width, d.cfg.Height = info.Width, info.Height
				}
			}
		}
	case media.CodecHEVC:
		for _, n := range demux.ParseAnnexBHEVC(data) {
			if demux.IsHEVCSPS(n.Type) {
				if info, err := demux.ParseHEVCSPS(n.Data); err == nil {
					d.cfg.Width, d.cfg.Height = info.Width, info.Height
				}
			}
		}
	}
}

func (d *Decoder) ReceiveFrame() (*media.DecodedFrame, error) {
	if len(d.ready) > 0 {
		f := d.ready[0]
		d.ready = d.ready[1:]
		return f, nil
	}
	if d.flushing {
		return nil, codec.ErrEOF
	}
	return nil, codec.ErrAgain
}

func (d *Decoder) Close() error {
	d.closed = true
	if d.cfg.FailClose {
		return ErrInjected
	}
	return nil
}

// Closed reports whether Close was called.
func (d *Decoder) Closed() bool { return d.closed }

// Encoder is a fake encoding session.
type Encoder struct {
	cfg    EncoderConfig
	params codec.EncoderParams

	held     []*media.EncodedPacket
	ready    []*media.EncodedPacket
	sends    int
	blocked  bool
	seq      int64
	flushing bool
	closed   bool

	// Frames records the FrameNumber of every accepted frame.
	Frames []int64
	// Blocked counts SendFrame calls refused with ErrAgain.
	Blocked int
}

// Params returns the parameters the session was opened with.
func (e *Encoder) Params() codec.EncoderParams { return e.params }

func (e *Encoder) SendFrame(f *media.DecodedFrame) error {
	if e.closed {
		return errors.New("codectest: encoder closed")
	}
	if f == nil {
		if e.flushing {
			return codec.ErrEOF
		}
		e.flushing = true
		e.ready = append(e.ready, e.held...)
		e.held = nil
		return nil
	}
	if e.flushing {
		return errors.New("codectest: frame after flush")
	}
	if refuse(e.cfg.BlockEvery, e.sends, &e.blocked) {
		e.Blocked++
		return codec.ErrAgain
	}
	e.sends++
	if e.cfg.FailAt > 0 && e.sends == e.cfg.FailAt {
		return fmt.Errorf("frame %d: %w", f.FrameNumber, ErrInjected)
	}

	e.Frames = append(e.Frames, f.FrameNumber)
	key := e.params.GOPSize <= 1 || e.seq%int64(e.params.GOPSize) == 0
	pkt := &media.EncodedPacket{
		Data:     AccessUnit(e.params, e.seq, key),
		PTS:      f.PTS,
		DTS:      f.PTS,
		Keyframe: key,
		Seq:      e.seq,
	}
	e.seq++

	e.held = append(e.held, pkt)
	if len(e.held) > e.cfg.Delay {
		e.ready = append(e.ready, e.held[0])
		e.held = e.held[1:]
	}
	return nil
}

func (e *Encoder) ReceivePacket() (*media.EncodedPacket, error) {
	if len(e.ready) > 0 {
		p := e.ready[0]
		e.ready = e.ready[1:]
		return p, nil
	}
	if e.flushing {
		return nil, codec.ErrEOF
	}
	return nil, codec.ErrAgain
}

func (e *Encoder) Close() error {
	e.closed = true
	if e.cfg.FailClose {
		return ErrInjected
	}
	return nil
}

// Closed reports whether Close was called.
func (e *Encoder) Closed() bool { return e.closed }
