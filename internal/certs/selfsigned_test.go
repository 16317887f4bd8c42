package certs

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	t.Parallel()
	cert, err := Generate(24*time.Hour, "camera.local", "10.0.0.5")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	x509Cert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}

	validity := x509Cert.NotAfter.Sub(x509Cert.NotBefore)
	if validity != 24*time.Hour {
		t.Errorf("validity = %v, want 24h", validity)
	}
	if x509Cert.NotAfter.Before(time.Now()) {
		t.Error("cert is already expired")
	}

	if cert.Fingerprint != sha256.Sum256(cert.TLSCert.Certificate[0]) {
		t.Error("fingerprint mismatch")
	}

	if !slices.Contains(x509Cert.DNSNames, "localhost") || !slices.Contains(x509Cert.DNSNames, "camera.local") {
		t.Errorf("DNS names = %v", x509Cert.DNSNames)
	}
	if !slices.ContainsFunc(x509Cert.IPAddresses, func(ip net.IP) bool { return ip.Equal(net.ParseIP("10.0.0.5")) }) {
		t.Errorf("IP addresses = %v", x509Cert.IPAddresses)
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
	if got := x509Cert.NotAfter.Sub(x509Cert.NotBefore); got != DefaultValidity {
		t.Errorf("validity = %v, want %v", got, DefaultValidity)
	}
}

func TestParseFingerprint(t *testing.T) {
	t.Parallel()
	cert, err := Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	hexFP := cert.FingerprintHex()
	var colons []string
	for i := 0; i < len(hexFP); i += 2 {
		colons = append(colons, strings.ToUpper(hexFP[i:i+2]))
	}

	for _, in := range []string{hexFP, strings.Join(colons, ":"), cert.FingerprintBase64()} {
		got, err := ParseFingerprint(in)
		if err != nil {
			t.Fatalf("ParseFingerprint(%q): %v", in, err)
		}
		if got != cert.Fingerprint {
			t.Errorf("ParseFingerprint(%q) = %x", in, got)
		}
	}

	if _, err := ParseFingerprint("abcd"); err == nil {
		t.Error("expected error for short fingerprint")
	}
}

func TestPinnedClientConfig(t *testing.T) {
	t.Parallel()
	server, err := Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	other, err := Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", server.ServerConfig("livebuf"))
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.(*tls.Conn).Handshake()
			c.Close()
		}
	}()

	conn, err := tls.Dial("tcp", ln.Addr().String(), PinnedClientConfig(server.Fingerprint, "livebuf"))
	if err != nil {
		t.Fatalf("pinned dial failed: %v", err)
	}
	conn.Close()

	_, err = tls.Dial("tcp", ln.Addr().String(), PinnedClientConfig(other.Fingerprint, "livebuf"))
	if !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected ErrFingerprintMismatch, got %v", err)
	}
}
