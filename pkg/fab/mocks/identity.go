package mocks

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
)

// NewIdentity generates a P-256 key and a self-signed certificate for name.
// The key is PKCS#8 encoded, as the Fabric CA issues it.
func NewIdentity(mspID, name string) (*fab.Identity, error) {
	cert, key, err := NewCertificate(name + "@" + mspID)
	if err != nil {
		return nil, err
	}
	return &fab.Identity{MSPID: mspID, Name: name, Cert: cert, Key: key}, nil
}

// NewCertificate returns a self-signed CA certificate and its private key,
// both PEM encoded.
func NewCertificate(cn string) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to generate key")
	}

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{cn}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create certificate")
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to marshal key")
	}

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), nil
}
