// Package certs generates self-signed ECDSA P-256 certificates for QUIC
// segment servers and builds client TLS configs pinned to a certificate's
// SHA-256 fingerprint, so loopback and LAN deployments need no CA.
package certs

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"
)

// DefaultValidity is used when Generate is given a non-positive validity.
const DefaultValidity = 14 * 24 * time.Hour

// ErrFingerprintMismatch is returned by a pinned TLS config when the peer
// presents a certificate other than the pinned one.
var ErrFingerprintMismatch = errors.New("certs: certificate fingerprint mismatch")

// CertInfo holds a TLS certificate and its SHA-256 fingerprint.
type CertInfo struct {
	TLSCert     tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
}

// FingerprintBase64 returns the SHA-256 fingerprint as base64.
func (c *CertInfo) FingerprintBase64() string {
	return base64.StdEncoding.EncodeToString(c.Fingerprint[:])
}

// FingerprintHex returns the SHA-256 fingerprint as lowercase hex.
func (c *CertInfo) FingerprintHex() string {
	return hex.EncodeToString(c.Fingerprint[:])
}

// ServerConfig returns a TLS config presenting the certificate for the
// given ALPN protocols.
func (c *CertInfo) ServerConfig(protos ...string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.TLSCert},
		NextProtos:   protos,
		MinVersion:   tls.VersionTLS13,
	}
}

// Generate creates a self-signed certificate for localhost plus any extra
// hosts (DNS names or IP literals).
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
		Subject:      pkix.Name{CommonName: "livebuf"},
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

// ParseFingerprint accepts a SHA-256 fingerprint as hex (colons allowed)
// or standard base64.
func ParseFingerprint(s string) ([32]byte, error) {
	var fp [32]byte
	s = strings.TrimSpace(s)
	if raw, err := hex.DecodeString(strings.ReplaceAll(s, ":", "")); err == nil && len(raw) == len(fp) {
		copy(fp[:], raw)
		return fp, nil
	}
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil && len(raw) == len(fp) {
		copy(fp[:], raw)
		return fp, nil
	}
	return fp, fmt.Errorf("certs: %q is not a SHA-256 fingerprint", s)
}

// PinnedClientConfig returns a client TLS config that accepts exactly the
// certificate with fingerprint fp, skipping chain verification.
func PinnedClientConfig(fp [32]byte, protos ...string) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, // replaced by the fingerprint check below
		NextProtos:         protos,
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return ErrFingerprintMismatch
			}
			got := sha256.Sum256(rawCerts[0])
			if !bytes.Equal(got[:], fp[:]) {
				return fmt.Errorf("%w: got %x", ErrFingerprintMismatch, got[:8])
			}
			return nil
		},
	}
}
