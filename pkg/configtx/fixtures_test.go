package configtx

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/stretchr/testify/require"
)

func newGroup() *common.ConfigGroup {
	return &common.ConfigGroup{
		Groups:    map[string]*common.ConfigGroup{},
		Values:    map[string]*common.ConfigValue{},
		Policies:  map[string]*common.ConfigPolicy{},
		ModPolicy: "Admins",
	}
}

// applicationConfig is a channel with the single member Org1MSP.
func applicationConfig(t *testing.T, anchors ...*pb.AnchorPeer) *common.Config {
	org := newGroup()
	if len(anchors) > 0 {
		raw, err := proto.Marshal(&pb.AnchorPeers{AnchorPeers: anchors})
		require.NoError(t, err)
		org.Values["AnchorPeers"] = &common.ConfigValue{Value: raw, ModPolicy: "Admins"}
	}

	app := newGroup()
	app.Groups["Org1MSP"] = org

	root := newGroup()
	root.Groups["Application"] = app
	return &common.Config{Sequence: 3, ChannelGroup: root}
}

// systemConfig is a system channel whose SampleConsortium has Org1MSP.
func systemConfig() *common.Config {
	consortium := newGroup()
	consortium.Groups["Org1MSP"] = newGroup()

	consortiums := newGroup()
	consortiums.Groups["SampleConsortium"] = consortium

	root := newGroup()
	root.Groups["Consortiums"] = consortiums
	return &common.Config{Sequence: 1, ChannelGroup: root}
}

func configEnvelope(t *testing.T, cfg *common.Config) []byte {
	raw, err := proto.Marshal(&common.ConfigEnvelope{Config: cfg})
	require.NoError(t, err)
	return raw
}

// envelopeOf wraps a config snapshot back into ConfigEnvelope bytes.
func envelopeOf(t *testing.T, cfg Snapshot) []byte {
	env, err := Snapshot{}.WithChange(Path{"config"}, cfg)
	require.NoError(t, err)
	raw, err := NewProtoCodec().Encode(env, SchemaConfigEnvelope)
	require.NoError(t, err)
	return raw
}

func selfSignedPEM(t *testing.T, cn string) []byte {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

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
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func testOrg(t *testing.T, mspID string) OrgDefinition {
	ca := selfSignedPEM(t, "ca."+mspID)
	return OrgDefinition{
		MSPID:        mspID,
		RootCerts:    [][]byte{ca},
		AdminCerts:   [][]byte{selfSignedPEM(t, "admin."+mspID)},
		TLSRootCerts: [][]byte{selfSignedPEM(t, "tlsca."+mspID)},
	}
}

// countingCodec records every diff it is asked to compute.
type countingCodec struct {
	Codec
	updates      int
	lastModified Snapshot
}

func (c *countingCodec) ComputeUpdate(channel string, schema SchemaType, original, modified Snapshot) ([]byte, error) {
	c.updates++
	c.lastModified = modified
	return c.Codec.ComputeUpdate(channel, schema, original, modified)
}
