package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/refract/internal/media"
)

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// srtDialTimeout bounds how long a caller waits for the handshake.
const srtDialTimeout = 10 * time.Second

// SRTOptions is the parsed form of an srt:// input URL:
//
//	srt://host:port[?mode=caller|listener][&streamid=...]
type SRTOptions struct {
	Address  string
	Listen   bool
	StreamID string
}

// ParseSRTURL parses raw into SRTOptions. Failure is media.ErrConfig.
func ParseSRTURL(raw string) (SRTOptions, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return SRTOptions{}, media.NewError("source", media.ErrConfig, err)
	}
	if u.Scheme != "srt" {
		return SRTOptions{}, media.Errorf("source", media.ErrConfig, "not an srt:// URL: %q", raw)
	}
	if u.Host == "" {
		return SRTOptions{}, media.Errorf("source", media.ErrConfig, "srt URL %q has no address", raw)
	}
	o := SRTOptions{Address: u.Host, StreamID: u.Query().Get("streamid")}
	switch mode := u.Query().Get("mode"); mode {
	case "", "caller":
	case "listener":
		o.Listen = true
	default:
		return SRTOptions{}, media.Errorf("source", media.ErrConfig, "unknown srt mode %q", mode)
	}
	return o, nil
}

// DialSRT opens an SRT input. In caller mode it dials the remote listener;
// in listener mode it waits for the first publisher. Either wait ends when
// ctx is canceled.
func DialSRT(ctx context.Context, raw string, log *slog.Logger) (io.ReadCloser, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "srt-source")

	o, err := ParseSRTURL(raw)
	if err != nil {
		return nil, err
	}
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	if o.StreamID != "" {
		cfg.StreamID = o.StreamID
	}

	type dialResult struct {
		conn io.ReadCloser
		err  error
	}
	ch := make(chan dialResult, 1)

	var cancelWait func()
	if o.Listen {
		l, err := srtgo.Listen(o.Address, cfg)
		if err != nil {
			return nil, media.NewError("source", media.ErrOpen, fmt.Errorf("SRT listen on %s: %w", o.Address, err))
		}
		log.Info("listening", "addr", o.Address)
		go func() {
			conn, err := l.Accept()
			if err != nil {
				l.Close()
				ch <- dialResult{nil, err}
				return
			}
			log.Info("publish", "stream_id", conn.StreamID(), "remote", conn.RemoteAddr())
			ch <- dialResult{&listenerConn{Conn: conn, closeListener: func() { l.Close() }}, nil}
		}()
		cancelWait = func() { l.Close() }
	} else {
		log.Info("dialing", "address", o.Address, "stream_id", o.StreamID)
		go func() {
			conn, err := srtgo.Dial(o.Address, cfg)
			if err != nil {
				ch <- dialResult{nil, err}
				return
			}
			ch <- dialResult{conn, nil}
		}()
		cancelWait = func() {}
	}

	var timeout <-chan time.Time
	if !o.Listen {
		timer := time.NewTimer(srtDialTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	abandon := func() {
		cancelWait()
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, media.NewError("source", media.ErrOpen, fmt.Errorf("SRT connect %s: %w", o.Address, res.err))
		}
		log.Info("connected", "address", o.Address)
		return res.conn, nil
	case <-timeout:
		abandon()
		return nil, media.Errorf("source", media.ErrOpen, "SRT dial timed out after %s", srtDialTimeout)
	case <-ctx.Done():
		abandon()
		return nil, media.NewError("source", media.ErrOpen, ctx.Err())
	}
}

// listenerConn closes its listener together with the accepted connection;
// a listener-mode input serves exactly one publisher.
type listenerConn struct {
	*srtgo.Conn
	closeListener func()
}

func (c *listenerConn) Close() error {
	err := c.Conn.Close()
	c.closeListener()
	return err
}
