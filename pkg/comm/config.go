// Package comm dials the gRPC endpoints of peers and orderers.
package comm

import (
	"crypto/tls"
	"crypto/x509"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

const (
	DefaultMaxRecvMsgSize = 100 * 1024 * 1024
	DefaultMaxSendMsgSize = 100 * 1024 * 1024
)

var (
	DefaultKeepaliveOptions = KeepaliveOptions{
		ClientInterval: time.Minute,
		ClientTimeout:  20 * time.Second,
	}

	DefaultDialTimeout = 30 * time.Second
)

// ClientConfig configures the connections of one GRPCClient.
type ClientConfig struct {
	SecOpts        SecureOptions
	KaOpts         KeepaliveOptions
	DialTimeout    time.Duration
	MaxRecvMsgSize int
	MaxSendMsgSize int
}

// KeepaliveOptions are the client side keepalive settings.
type KeepaliveOptions struct {
	ClientInterval time.Duration
	ClientTimeout  time.Duration
}

// SecureOptions holds the TLS material of a connection. All certificates and
// keys are PEM encoded.
type SecureOptions struct {
	UseTLS             bool
	RequireClientCert  bool
	ServerRootCAs      [][]byte
	Certificate        []byte
	Key                []byte
	ServerNameOverride string
}

func (cc ClientConfig) dialOptions() ([]grpc.DialOption, error) {
	ka := cc.KaOpts
	if ka.ClientInterval == 0 {
		ka = DefaultKeepaliveOptions
	}

	dialOpts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                ka.ClientInterval,
			Timeout:             ka.ClientTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithBlock(),
		grpc.FailOnNonTempDialError(true),
	}

	maxRecvMsgSize := DefaultMaxRecvMsgSize
	if cc.MaxRecvMsgSize != 0 {
		maxRecvMsgSize = cc.MaxRecvMsgSize
	}
	maxSendMsgSize := DefaultMaxSendMsgSize
	if cc.MaxSendMsgSize != 0 {
		maxSendMsgSize = cc.MaxSendMsgSize
	}
	dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(
		grpc.MaxCallRecvMsgSize(maxRecvMsgSize),
		grpc.MaxCallSendMsgSize(maxSendMsgSize),
	))

	tlsConfig, err := cc.SecOpts.TLSConfig()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	return dialOpts, nil
}

// TLSConfig returns nil when TLS is disabled.
func (so SecureOptions) TLSConfig() (*tls.Config, error) {
	if !so.UseTLS {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		ServerName: so.ServerNameOverride,
		MinVersion: tls.VersionTLS12,
	}

	if len(so.ServerRootCAs) > 0 {
		tlsConfig.RootCAs = x509.NewCertPool()
		for _, certBytes := range so.ServerRootCAs {
			if !tlsConfig.RootCAs.AppendCertsFromPEM(certBytes) {
				return nil, errors.New("error adding root certificate")
			}
		}
	}

	if so.RequireClientCert {
		cert, err := so.ClientCertificate()
		if err != nil {
			return nil, errors.WithMessage(err, "failed to load client certificate")
		}
		tlsConfig.Certificates = append(tlsConfig.Certificates, cert)
	}

	return tlsConfig, nil
}

// ClientCertificate returns the client certificate used for mutual TLS.
func (so SecureOptions) ClientCertificate() (tls.Certificate, error) {
	if so.Key == nil || so.Certificate == nil {
		return tls.Certificate{}, errors.New("both Key and Certificate are required when using mutual TLS")
	}
	cert, err := tls.X509KeyPair(so.Certificate, so.Key)
	if err != nil {
		return tls.Certificate{}, errors.WithMessage(err, "failed to create key pair")
	}
	return cert, nil
}
