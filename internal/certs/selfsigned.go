// Package certs generates the self-signed ECDSA P-256 certificate used by
// the QUIC receiver and checks it by fingerprint on the sending side.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

// DefaultValidity is used when Generate is given a non-positive validity.
const DefaultValidity = 24 * time.Hour

// CertInfo holds a TLS certificate and its SHA-256 fingerprint.
type CertInfo struct {
	TLSCert     tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
}

// FingerprintBase64 returns the SHA-256 fingerprint as URL-safe base64, the
// form accepted in the fingerprint query parameter of a quic:// URL.
func (c *CertInfo) FingerprintBase64() string {
	return base64.RawURLEncoding.EncodeToString(c.Fingerprint[:])
}

// Generate creates a self-signed certificate for localhost, the loopback
// addresses and any extra hosts (DNS names or IP literals).
func Generate(validity time.Duration, hosts ...string) (*CertInfo, error) {
	if validity <= 0 {
		validity = DefaultValidity
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	notBefore := time.Now().Add(-1 * time.Minute) // clock skew
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "refract"},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	return &CertInfo{
		TLSCert: tls.Certificate{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		},
		Fingerprint: sha256.Sum256(certDER),
		NotAfter:    template.NotAfter,
	}, nil
}

// ErrFingerprintMismatch is returned by a PinnedVerifier when the peer's
// leaf certificate does not hash to the pinned fingerprint.
var ErrFingerprintMismatch = errors.New("certificate fingerprint mismatch")

// PinnedVerifier returns a tls.Config VerifyPeerCertificate hook accepting
// only a leaf certificate whose SHA-256 matches fp (URL-safe base64 as
// printed by FingerprintBase64). Use it with InsecureSkipVerify set.
func PinnedVerifier(fp string) (func([][]byte, [][]*x509.Certificate) error, error) {
	want, err := base64.RawURLEncoding.DecodeString(fp)
	if err != nil || len(want) != sha256.Size {
		return nil, fmt.Errorf("invalid fingerprint %q", fp)
	}
	return func(raw [][]byte, _ [][]*x509.Certificate) error {
		if len(raw) == 0 {
			return ErrFingerprintMismatch
		}
		got := sha256.Sum256(raw[0])
		if string(got[:]) != string(want) {
			return ErrFingerprintMismatch
		}
		return nil
	}, nil
}
