// Package captions pulls CEA-608 and CEA-708 captions out of the SEI
// messages of coded video and writes them to a plain text sidecar, since
// re-encoding drops them from the picture stream.
//
// Each line of the sidecar is
//
//	<pts> <channel> <text>
//
// where pts is the packet timestamp (the packet sequence number when the
// input has no timestamps), channel is 1-4 for CEA-608 CC1-CC4 and 7-12 for
// CEA-708 services 1-6, and newlines inside text are written as `\n`.
package captions

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/zsiec/ccx"

	"github.com/zsiec/refract/internal/demux"
	"github.com/zsiec/refract/internal/media"
)

// Line is one decoded caption update.
type Line struct {
	PTS     int64
	Channel int
	Text    string
}

// String formats the line as written to the sidecar, without newline.
func (l Line) String() string {
	return fmt.Sprintf("%d %d %s", l.PTS, l.Channel, strings.ReplaceAll(l.Text, "\n", `\n`))
}

// Stats counts extractor activity.
type Stats struct {
	Packets int64 `json:"packets"`
	SEI     int64 `json:"sei"`
	Lines   int64 `json:"lines"`
}

// Extractor decodes captions from coded packets in decode order.
type Extractor struct {
	w   *bufio.Writer
	c   io.Closer
	log *slog.Logger

	cea608 map[int]*ccx.CEA608Decoder
	cea708 map[int]*ccx.CEA708Service
	dtvcc  []byte

	// CEA-608 control codes are transmitted twice; the repeat is dropped.
	lastCtrl      [2][2]byte
	lastWasCtrl   [2]bool
	lastCtrlFrame [2]int64

	frames int64
	stats  Stats
	err    error
}

// NewExtractor writes sidecar lines to w. If w is an io.Closer, Close
// closes it.
func NewExtractor(w io.Writer, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	e := &Extractor{
		w:      bufio.NewWriter(w),
		log:    log.With("component", "captions"),
		cea608: make(map[int]*ccx.CEA608Decoder, 4),
		cea708: make(map[int]*ccx.CEA708Service, 6),
	}
	if c, ok := w.(io.Closer); ok {
		e.c = c
	}
	for ch := 1; ch <= 4; ch++ {
		e.cea608[ch] = ccx.NewCEA608Decoder()
	}
	for svc := 1; svc <= 6; svc++ {
		e.cea708[svc] = ccx.NewCEA708Service()
	}
	return e
}

// Feed inspects one coded packet. Only write failures are reported, as
// media.ErrIO; malformed caption data is skipped.
func (e *Extractor) Feed(pkt *media.CodedPacket) error {
	if e.err != nil {
		return e.err
	}
	e.stats.Packets++
	pts := pkt.PTS
	if pts == media.NoPTS {
		pts = pkt.Seq
	}

	switch pkt.Codec {
	case media.CodecH264:
		for _, n := range demux.ParseAnnexB(pkt.Data) {
			if n.Type == demux.NALTypeSEI {
				e.handleSEI(n.Data, pts)
			}
		}
	case media.CodecHEVC:
		for _, n := range demux.ParseAnnexBHEVC(pkt.Data) {
			if n.Type == demux.HEVCNALSEIPrefix && len(n.Data) > 2 {
				e.handleSEI(n.Data, pts)
			}
		}
	}
	e.frames++
	return e.err
}

func (e *Extractor) handleSEI(sei []byte, pts int64) {
	e.stats.SEI++
	cd := ccx.ExtractCaptions(sei)
	if cd == nil {
		return
	}

	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]
		f := pair.Field
		if f < 0 || f > 1 {
			continue
		}
		if cc1 >= 0x10 && cc1 <= 0x1F {
			cp := [2]byte{cc1, cc2}
			if e.lastWasCtrl[f] && e.lastCtrl[f] == cp && e.frames-e.lastCtrlFrame[f] <= 2 {
				e.lastWasCtrl[f] = false
				continue
			}
			e.lastCtrl[f] = cp
			e.lastWasCtrl[f] = true
			e.lastCtrlFrame[f] = e.frames
		} else {
			e.lastWasCtrl[f] = false
		}

		dec := e.cea608[pair.Channel]
		if dec == nil {
			continue
		}
		if text := dec.Decode(cc1, cc2); text != "" {
			e.emit(Line{PTS: pts, Channel: pair.Channel, Text: text})
		}
	}

	for _, t := range cd.DTVCC {
		if t.Start {
			e.drainDTVCC(pts)
			e.dtvcc = e.dtvcc[:0]
		}
		e.dtvcc = append(e.dtvcc, t.Data[0], t.Data[1])
	}
}

func (e *Extractor) drainDTVCC(pts int64) {
	if len(e.dtvcc) < 1 {
		return
	}
	size := ccx.DTVCCPacketSize(e.dtvcc[0])
	if len(e.dtvcc) < size {
		return
	}
	for _, block := range ccx.ParseDTVCCPacket(e.dtvcc[:size]) {
		svc := e.cea708[block.ServiceNum]
		if svc == nil || !svc.ProcessBlock(block.Data) {
			continue
		}
		if text := svc.DisplayText(); text != "" {
			e.emit(Line{PTS: pts, Channel: block.ServiceNum + 6, Text: text})
		}
	}
	e.dtvcc = e.dtvcc[size:]
}

func (e *Extractor) emit(l Line) {
	if e.err != nil {
		return
	}
	if _, err := fmt.Fprintln(e.w, l.String()); err != nil {
		e.err = media.NewError("captions", media.ErrIO, err)
		return
	}
	e.stats.Lines++
}

// Stats returns the extractor counters.
func (e *Extractor) Stats() Stats { return e.stats }

// Close decodes any pending CEA-708 packet, flushes buffered lines and
// closes the sidecar.
func (e *Extractor) Close() error {
	e.drainDTVCC(media.NoPTS)
	err := e.err
	if ferr := e.w.Flush(); ferr != nil && err == nil {
		err = media.NewError("captions", media.ErrIO, ferr)
	}
	if e.c != nil {
		if cerr := e.c.Close(); cerr != nil && err == nil {
			err = media.NewError("captions", media.ErrIO, cerr)
		}
		e.c = nil
	}
	return err
}
