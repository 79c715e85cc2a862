package certs

import (
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"net"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	t.Parallel()
	cert, err := Generate(48*time.Hour, "receiver.example", "10.1.2.3")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(cert.TLSCert.Certificate) == 0 {
		t.Fatal("no certificate data")
	}
	x509Cert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}

	validity := x509Cert.NotAfter.Sub(x509Cert.NotBefore)
	if validity != 48*time.Hour {
		t.Errorf("validity = %v, want 48h", validity)
	}
	if x509Cert.NotAfter.Before(time.Now()) {
		t.Error("cert is already expired")
	}
	if sha256.Sum256(cert.TLSCert.Certificate[0]) != cert.Fingerprint {
		t.Error("fingerprint mismatch")
	}

	if err := x509Cert.VerifyHostname("receiver.example"); err != nil {
		t.Errorf("extra DNS name: %v", err)
	}
	if err := x509Cert.VerifyHostname("localhost"); err != nil {
		t.Errorf("localhost: %v", err)
	}
	found := false
	for _, ip := range x509Cert.IPAddresses {
		if ip.Equal(net.ParseIP("10.1.2.3")) {
			found = true
		}
	}
	if !found {
		t.Errorf("extra IP missing from %v", x509Cert.IPAddresses)
	}
}

func TestGenerateDefaultValidity(t *testing.T) {
	t.Parallel()
	cert, err := Generate(0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	x509Cert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}
	if v := x509Cert.NotAfter.Sub(x509Cert.NotBefore); v != DefaultValidity {
		t.Errorf("validity = %v, want %v", v, DefaultValidity)
	}
}

func TestPinnedVerifier(t *testing.T) {
	t.Parallel()
	a, err := Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	verify, err := PinnedVerifier(a.FingerprintBase64())
	if err != nil {
		t.Fatalf("PinnedVerifier: %v", err)
	}
	if err := verify(a.TLSCert.Certificate, nil); err != nil {
		t.Errorf("own certificate rejected: %v", err)
	}
	if err := verify(b.TLSCert.Certificate, nil); !errors.Is(err, ErrFingerprintMismatch) {
		t.Errorf("foreign certificate: want ErrFingerprintMismatch, got %v", err)
	}
	if err := verify(nil, nil); !errors.Is(err, ErrFingerprintMismatch) {
		t.Errorf("no certificate: want ErrFingerprintMismatch, got %v", err)
	}

	if _, err := PinnedVerifier("not-base64!"); err == nil {
		t.Error("expected error for malformed fingerprint")
	}
	if _, err := PinnedVerifier("AAAA"); err == nil {
		t.Error("expected error for short fingerprint")
	}
}
