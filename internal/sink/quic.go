package sink

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/spf13/afero"

	"github.com/zsiec/refract/internal/certs"
	"github.com/zsiec/refract/internal/media"
)

// ALPN is the application protocol spoken on refract's QUIC connections:
// one unidirectional stream carrying the elementary stream bytes.
const ALPN = "refract-es"

// closeTimeout bounds how long a sender waits for the receiver to
// acknowledge the end of the stream.
const closeTimeout = 5 * time.Second

// Application error codes on the QUIC connection.
const (
	codeDone   quic.ApplicationErrorCode = 0
	codeFailed quic.ApplicationErrorCode = 1
)

// streamCodeFailed aborts the receiving side of the data stream.
const streamCodeFailed quic.StreamErrorCode = 1

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

// quicStream sends on one unidirectional stream and closes the connection
// once the receiver has taken everything.
type quicStream struct {
	conn   quic.Connection
	stream quic.SendStream
	log    *slog.Logger
}

func (s *quicStream) Write(p []byte) (int, error) { return s.stream.Write(p) }

func (s *quicStream) Close() error {
	if err := s.stream.Close(); err != nil {
		s.conn.CloseWithError(codeFailed, "close stream")
		return err
	}
	// The receiver closes the connection after reading the FIN.
	select {
	case <-s.conn.Context().Done():
		return nil
	case <-time.After(closeTimeout):
		s.log.Warn("receiver did not confirm end of stream", "timeout", closeTimeout)
		return s.conn.CloseWithError(codeDone, "")
	}
}

// DialQUIC connects to a refract receiver at quic://host:port. The URL may
// pin the receiver's certificate with ?fingerprint=<base64 sha256>;
// otherwise the certificate must verify against the system roots unless
// o.Insecure is set.
func DialQUIC(ctx context.Context, rawURL string, o Options) (*Writer, error) {
	log := o.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "quic-sink")

	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "quic" || u.Host == "" {
		return nil, media.Errorf("sink", media.ErrConfig, "invalid quic URL %q", rawURL)
	}
	host, _, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, media.Errorf("sink", media.ErrConfig, "quic URL %q needs host:port", rawURL)
	}

	tlsConf := &tls.Config{
		ServerName: host,
		NextProtos: []string{ALPN},
		MinVersion: tls.VersionTLS13,
	}
	if fp := u.Query().Get("fingerprint"); fp != "" {
		verify, err := certs.PinnedVerifier(fp)
		if err != nil {
			return nil, media.NewError("sink", media.ErrConfig, err)
		}
		tlsConf.InsecureSkipVerify = true
		tlsConf.VerifyPeerCertificate = verify
	} else if o.Insecure {
		tlsConf.InsecureSkipVerify = true
	}

	conn, err := quic.DialAddr(ctx, u.Host, tlsConf, quicConfig())
	if err != nil {
		return nil, media.NewError("sink", media.ErrOpen, fmt.Errorf("dialing %s: %w", u.Host, err))
	}
	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(codeFailed, "open stream")
		return nil, media.NewError("sink", media.ErrOpen, fmt.Errorf("opening stream to %s: %w", u.Host, err))
	}
	log.Info("connected", "remote", conn.RemoteAddr())
	return NewWriter(&quicStream{conn: conn, stream: stream, log: log}, rawURL), nil
}

// Receiver accepts one QUIC connection and copies its unidirectional
// stream to a file.
type Receiver struct {
	ln   *quic.Listener
	cert *certs.CertInfo
	log  *slog.Logger
}

// Listen starts a receiver on addr with a fresh self-signed certificate.
func Listen(addr string, log *slog.Logger) (*Receiver, error) {
	if log == nil {
		log = slog.Default()
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, media.NewError("receiver", media.ErrConfig, err)
	}
	cert, err := certs.Generate(0, host)
	if err != nil {
		return nil, media.NewError("receiver", media.ErrOpen, err)
	}
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert.TLSCert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, media.NewError("receiver", media.ErrOpen, fmt.Errorf("listening on %s: %w", addr, err))
	}
	return &Receiver{ln: ln, cert: cert, log: log.With("component", "quic-receiver")}, nil
}

// Addr is the bound UDP address.
func (r *Receiver) Addr() net.Addr { return r.ln.Addr() }

// Fingerprint is the certificate fingerprint senders pin with
// ?fingerprint=.
func (r *Receiver) Fingerprint() string { return r.cert.FingerprintBase64() }

// Receive accepts one connection, writes its stream to path on fs and
// returns the byte count. ctx cancels the wait and the copy.
func (r *Receiver) Receive(ctx context.Context, fs afero.Fs, path string) (int64, error) {
	conn, err := r.ln.Accept(ctx)
	if err != nil {
		return 0, media.NewError("receiver", media.ErrOpen, fmt.Errorf("accept: %w", err))
	}
	r.log.Info("sender connected", "remote", conn.RemoteAddr())

	stream, err := conn.AcceptUniStream(ctx)
	if err != nil {
		conn.CloseWithError(codeFailed, "no stream")
		return 0, media.NewError("receiver", media.ErrIO, fmt.Errorf("accept stream: %w", err))
	}

	f, err := fs.Create(path)
	if err != nil {
		stream.CancelRead(streamCodeFailed)
		conn.CloseWithError(codeFailed, "cannot create output")
		return 0, media.NewError("receiver", media.ErrOpen, err)
	}

	stop := context.AfterFunc(ctx, func() { stream.CancelRead(streamCodeFailed) })
	n, copyErr := io.Copy(f, stream)
	stop()

	closeErr := f.Close()
	if copyErr != nil {
		conn.CloseWithError(codeFailed, "receive failed")
		return n, media.NewError("receiver", media.ErrIO, copyErr)
	}
	if closeErr != nil {
		conn.CloseWithError(codeFailed, "write failed")
		return n, media.NewError("receiver", media.ErrIO, closeErr)
	}
	conn.CloseWithError(codeDone, "")
	r.log.Info("stream received", "bytes", n, "path", path)
	return n, nil
}

// Close stops listening.
func (r *Receiver) Close() error {
	if err := r.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
