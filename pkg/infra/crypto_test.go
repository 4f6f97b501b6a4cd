package infra

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"testing"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-protos-go/common"
	"github.com/hyperledger/fabric-protos-go/msp"
	"github.com/osdi23p228/azhlf/pkg/fab/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ecdsaSignature struct {
	R, S *big.Int
}

func verify(t *testing.T, c *Crypto, msg, signature []byte) {
	t.Helper()
	pub, ok := c.Certificate().PublicKey.(*ecdsa.PublicKey)
	require.True(t, ok)
	sig := &ecdsaSignature{}
	_, err := asn1.Unmarshal(signature, sig)
	require.NoError(t, err)

	digest := sha256.Sum256(msg)
	assert.True(t, ecdsa.Verify(pub, digest[:], sig.R, sig.S), "signature does not verify")

	halfOrder := new(big.Int).Rsh(pub.Params().N, 1)
	assert.True(t, sig.S.Cmp(halfOrder) <= 0, "signature is not low-S")
}

func TestNewCryptoSerializesCreator(t *testing.T) {
	id, err := mocks.NewIdentity("Org1MSP", "Admin")
	require.NoError(t, err)

	c, err := NewCrypto(id)
	require.NoError(t, err)

	creator := &msp.SerializedIdentity{}
	require.NoError(t, proto.Unmarshal(c.Creator, creator))
	assert.Equal(t, "Org1MSP", creator.Mspid)
	assert.Equal(t, id.Cert, creator.IdBytes)
	assert.Equal(t, "Admin@Org1MSP", c.Certificate().Subject.CommonName)

	serialized, err := c.Serialize()
	require.NoError(t, err)
	assert.Equal(t, c.Creator, serialized)
}

func TestNewCryptoRejectsBadMaterial(t *testing.T) {
	_, err := NewCrypto(nil)
	assert.Error(t, err)

	id, err := mocks.NewIdentity("Org1MSP", "Admin")
	require.NoError(t, err)

	badKey := *id
	badKey.Key = []byte("not a key")
	_, err = NewCrypto(&badKey)
	assert.EqualError(t, err, "failed to load private key of Admin: no PEM block found in private key")

	badCert := *id
	badCert.Cert = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("garbage")})
	_, err = NewCrypto(&badCert)
	assert.Error(t, err)
}

func TestSignIsLowS(t *testing.T) {
	c := newTestCrypto(t, "Org1MSP")
	msg := []byte("hello fabric")

	// roughly half of raw ECDSA signatures are high-S
	for i := 0; i < 32; i++ {
		signature, err := c.Sign(msg)
		require.NoError(t, err)
		verify(t, c, msg, signature)
	}
}

func TestNewTransactionID(t *testing.T) {
	c := newTestCrypto(t, "Org1MSP")

	first, err := c.NewTransactionID()
	require.NoError(t, err)
	second, err := c.NewTransactionID()
	require.NoError(t, err)

	assert.Len(t, first.Nonce, 24)
	assert.Equal(t, c.Creator, first.Creator)

	digest := sha256.Sum256(append(append([]byte{}, first.Nonce...), c.Creator...))
	assert.Equal(t, hex.EncodeToString(digest[:]), first.ID)

	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.Nonce, second.Nonce)
}

func TestGetPrivateKeySEC1(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	parsed, err := GetPrivateKey(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))

	_, err = GetPrivateKey(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: []byte("garbage")}))
	assert.Error(t, err)
}

func TestSignConfigUpdate(t *testing.T) {
	c := newTestCrypto(t, "Org1MSP")
	update := []byte("config update")

	sig, err := c.SignConfigUpdate(update)
	require.NoError(t, err)

	shdr := &common.SignatureHeader{}
	require.NoError(t, proto.Unmarshal(sig.SignatureHeader, shdr))
	assert.Equal(t, c.Creator, shdr.Creator)
	assert.Len(t, shdr.Nonce, 24)

	verify(t, c, append(append([]byte{}, sig.SignatureHeader...), update...), sig.Signature)
}
