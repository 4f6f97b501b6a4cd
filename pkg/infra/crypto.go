package infra

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"

	"github.com/golang/protobuf/proto"
	fabconfig "github.com/hyperledger/fabric-config/configtx"
	"github.com/hyperledger/fabric-protos-go/common"
	"github.com/hyperledger/fabric-protos-go/msp"
	"github.com/hyperledger/fabric/protoutil"
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
)

// Crypto signs on behalf of one loaded identity. It satisfies protoutil.Signer.
type Crypto struct {
	Creator []byte
	signer  *fabconfig.SigningIdentity
}

var _ protoutil.Signer = (*Crypto)(nil)

// NewCrypto loads the signing material of id. The creator carries the
// certificate re-encoded from its DER form, so proposals and config
// signatures name the same identity.
func NewCrypto(id *fab.Identity) (*Crypto, error) {
	if id == nil {
		return nil, errors.New("identity is required")
	}

	key, err := GetPrivateKey(id.Key)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load private key of %s", id.Name)
	}
	cert, err := GetCertificate(id.Cert)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load certificate of %s", id.Name)
	}

	creator, err := proto.Marshal(&msp.SerializedIdentity{
		Mspid:   id.MSPID,
		IdBytes: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize identity")
	}

	return &Crypto{
		Creator: creator,
		signer:  &fabconfig.SigningIdentity{Certificate: cert, PrivateKey: key, MSPID: id.MSPID},
	}, nil
}

func (c *Crypto) Serialize() ([]byte, error) {
	return c.Creator, nil
}

// Sign signs the SHA-256 digest of msg with a low-S ECDSA signature.
func (c *Crypto) Sign(msg []byte) ([]byte, error) {
	signature, err := c.signer.Sign(rand.Reader, msg, nil)
	return signature, errors.Wrap(err, "failed to sign")
}

// Certificate is the signing certificate.
func (c *Crypto) Certificate() *x509.Certificate {
	return c.signer.Certificate
}

// NewTransactionID mints an id bound to a fresh nonce and this creator.
func (c *Crypto) NewTransactionID() (fab.TransactionID, error) {
	nonce, err := protoutil.CreateNonce()
	if err != nil {
		return fab.TransactionID{}, err
	}
	return fab.TransactionID{
		ID:      protoutil.ComputeTxID(nonce, c.Creator),
		Nonce:   nonce,
		Creator: c.Creator,
	}, nil
}

// SignConfigUpdate produces this identity's signature over a marshaled
// ConfigUpdate.
func (c *Crypto) SignConfigUpdate(update []byte) (*common.ConfigSignature, error) {
	sig, err := c.signer.CreateConfigSignature(update)
	return sig, errors.WithMessage(err, "failed to sign config update")
}

// GetPrivateKey parses a PEM encoded PKCS#8 or SEC 1 ECDSA key.
func GetPrivateKey(raw []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block found in private key")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not an ECDSA key")
		}
		return ecKey, nil
	}

	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}
	return key, nil
}

// GetCertificate parses a PEM encoded certificate.
func GetCertificate(raw []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block found in certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	return cert, errors.Wrap(err, "failed to parse certificate")
}
