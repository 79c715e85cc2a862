package codec

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/zsiec/refract/internal/media"
)

// State is a Stage lifecycle state.
type State int

const (
	StateOpened State = iota
	StateSubmitting
	StateDraining
	StateFlushing
	StateFlushed
	StateClosed
	StateAborted
)

var stateNames = [...]string{"opened", "submitting", "draining", "flushing", "flushed", "closed", "aborted"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Status is the non-error outcome of a Submit or Receive.
type Status int

const (
	// StatusOK: Submit accepted the unit, or Receive returned an output.
	StatusOK Status = iota
	// StatusWouldBlock: Submit did not take the unit; drain, then resubmit it.
	StatusWouldBlock
	// StatusEmpty: no output is ready; submit more input.
	StatusEmpty
	// StatusEndOfStream: the stage is flushed and fully drained.
	StatusEndOfStream
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWouldBlock:
		return "would-block"
	case StatusEmpty:
		return "empty"
	case StatusEndOfStream:
		return "end-of-stream"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Stage wraps one codec session and enforces the send/receive protocol:
//
//   - Submit is only allowed once the previous output was drained to Empty.
//   - WouldBlock leaves the unit with the caller, who drains and resubmits it.
//   - Receive after Empty returns Empty again without calling the session.
//   - Flush is allowed once; Receive then yields outputs followed by exactly
//     one EndOfStream.
//
// Violations fail with media.ErrProtocol. Session failures fail with the
// stage's kind (media.ErrDecode or media.ErrEncode) and abort the stage.
// A Stage is not safe for concurrent use.
type Stage[In, Out any] struct {
	name string
	kind error
	log  *slog.Logger

	send  func(In) error
	flush func() error
	recv  func() (Out, error)
	close func() error

	state   State
	drained bool // last Receive returned Empty and nothing was submitted since

	submitted int64
	produced  int64
}

// NewDecoderStage wraps a decoder session.
func NewDecoderStage(dec Decoder, log *slog.Logger) *Stage[*media.CodedPacket, *media.DecodedFrame] {
	return newStage("decoder", media.ErrDecode, log,
		dec.SendPacket,
		func() error { return dec.SendPacket(nil) },
		dec.ReceiveFrame,
		dec.Close,
	)
}

// NewEncoderStage wraps an encoder session.
func NewEncoderStage(enc Encoder, log *slog.Logger) *Stage[*media.DecodedFrame, *media.EncodedPacket] {
	return newStage("encoder", media.ErrEncode, log,
		enc.SendFrame,
		func() error { return enc.SendFrame(nil) },
		enc.ReceivePacket,
		enc.Close,
	)
}

func newStage[In, Out any](name string, kind error, log *slog.Logger,
	send func(In) error, flush func() error, recv func() (Out, error), closeFn func() error,
) *Stage[In, Out] {
	if log == nil {
		log = slog.Default()
	}
	return &Stage[In, Out]{
		name:    name,
		kind:    kind,
		log:     log.With("component", name),
		send:    send,
		flush:   flush,
		recv:    recv,
		close:   closeFn,
		drained: true,
	}
}

// State returns the current lifecycle state.
func (s *Stage[In, Out]) State() State { return s.state }

// Submitted returns the number of units the session accepted.
func (s *Stage[In, Out]) Submitted() int64 { return s.submitted }

// Produced returns the number of outputs received from the session.
func (s *Stage[In, Out]) Produced() int64 { return s.produced }

// Submit hands one unit to the session.
func (s *Stage[In, Out]) Submit(in In) (Status, error) {
	switch s.state {
	case StateOpened, StateSubmitting, StateDraining:
	default:
		return 0, s.protocolf("submit in state %v", s.state)
	}
	if !s.drained {
		return 0, s.protocolf("submit before output was drained")
	}

	err := s.send(in)
	switch {
	case err == nil:
		s.submitted++
		s.state = StateSubmitting
		s.drained = false
		return StatusOK, nil
	case errors.Is(err, ErrAgain):
		s.state = StateDraining
		s.drained = false
		return StatusWouldBlock, nil
	default:
		return 0, s.abort(err)
	}
}

// Flush tells the session no more input follows.
func (s *Stage[In, Out]) Flush() error {
	switch s.state {
	case StateOpened, StateSubmitting, StateDraining:
	default:
		return s.protocolf("flush in state %v", s.state)
	}
	if !s.drained {
		return s.protocolf("flush before output was drained")
	}
	if err := s.flush(); err != nil {
		return s.abort(err)
	}
	s.state = StateFlushing
	s.drained = false
	s.log.Debug("flushing", "submitted", s.submitted, "produced", s.produced)
	return nil
}

// Receive takes the next output from the session. out is only valid with
// StatusOK.
func (s *Stage[In, Out]) Receive() (out Out, st Status, err error) {
	switch s.state {
	case StateFlushed, StateClosed, StateAborted:
		return out, 0, s.protocolf("receive in state %v", s.state)
	}
	if s.drained {
		return out, StatusEmpty, nil
	}

	out, err = s.recv()
	switch {
	case err == nil:
		s.produced++
		if s.state != StateFlushing {
			s.state = StateDraining
		}
		return out, StatusOK, nil
	case errors.Is(err, ErrAgain):
		if s.state == StateFlushing {
			return out, 0, s.abort(fmt.Errorf("session asked for input while flushing"))
		}
		s.drained = true
		return out, StatusEmpty, nil
	case errors.Is(err, ErrEOF):
		if s.state != StateFlushing {
			return out, 0, s.abort(fmt.Errorf("session ended without flush"))
		}
		s.state = StateFlushed
		s.log.Debug("flushed", "submitted", s.submitted, "produced", s.produced)
		return out, StatusEndOfStream, nil
	default:
		return out, 0, s.abort(err)
	}
}

// Close releases the session. It may be called in any state and more than
// once; only the first call reaches the session.
func (s *Stage[In, Out]) Close() error {
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	if err := s.close(); err != nil {
		return media.NewError(s.name, s.kind, fmt.Errorf("close: %w", err))
	}
	return nil
}

func (s *Stage[In, Out]) abort(err error) error {
	s.state = StateAborted
	return media.NewError(s.name, s.kind, err)
}

func (s *Stage[In, Out]) protocolf(format string, args ...any) error {
	return media.Errorf(s.name, media.ErrProtocol, format, args...)
}
