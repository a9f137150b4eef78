package selfsignedcert

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Certificate is a self-signed server certificate together with a pool
// trusting it, for wiring up both ends of a TLS connection.
type Certificate struct {
	TLSCertificate tls.Certificate
	CertPool       *x509.CertPool
	CertPEM        []byte
}

// ServerConfig returns a TLS config presenting the certificate.
func (c *Certificate) ServerConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.TLSCertificate},
		MinVersion:   tls.VersionTLS12,
	}
}

// ClientConfig returns a TLS config trusting only the certificate.
func (c *Certificate) ClientConfig() *tls.Config {
	return &tls.Config{
		RootCAs:    c.CertPool,
		MinVersion: tls.VersionTLS12,
	}
}

// GenerateCertificate creates a certificate valid for a week for the given
// host names and IP addresses.
func GenerateCertificate(hosts ...string) (*Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate private key")
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, errors.Wrap(err, "unable to marshal private key")
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate serial number")
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Stellar KV Dev"},
		},

		NotBefore: time.Now().Add(-1 * time.Minute),
		NotAfter:  time.Now().Add(7 * 24 * time.Hour),

		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create certificate")
	}

	keyBuf := bytes.NewBuffer(nil)
	err = pem.Encode(keyBuf, &pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	if err != nil {
		return nil, errors.Wrap(err, "failed to write key pem data")
	}

	certBuf := bytes.NewBuffer(nil)
	err = pem.Encode(certBuf, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	if err != nil {
		return nil, errors.Wrap(err, "failed to write cert pem data")
	}

	cert, err := tls.X509KeyPair(certBuf.Bytes(), keyBuf.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "failed to produce tls certificate")
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(certBuf.Bytes()) {
		return nil, errors.New("failed to add certificate to pool")
	}

	return &Certificate{
		TLSCertificate: cert,
		CertPool:       pool,
		CertPEM:        certBuf.Bytes(),
	}, nil
}
