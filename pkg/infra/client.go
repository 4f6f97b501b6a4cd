package infra

import (
	"context"
	"sync"
	"time"

	"github.com/hyperledger/fabric-protos-go/orderer"
	"github.com/hyperledger/fabric-protos-go/peer"
	"github.com/osdi23p228/azhlf/pkg/comm"
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

// connector opens the gRPC clients a Gateway talks through.
type connector interface {
	Endorser(ctx context.Context, node fab.Node) (peer.EndorserClient, error)
	Broadcast(ctx context.Context, node fab.Node) (orderer.AtomicBroadcast_BroadcastClient, error)
	Deliver(ctx context.Context, node fab.Node) (orderer.AtomicBroadcast_DeliverClient, error)
	DeliverFiltered(ctx context.Context, node fab.Node) (peer.Deliver_DeliverFilteredClient, error)
	Close() error
}

// grpcConnector keeps one connection per node address for the lifetime of a
// Gateway.
type grpcConnector struct {
	identity    *fab.Identity
	dialTimeout time.Duration
	logger      *log.Logger

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func newGRPCConnector(identity *fab.Identity, dialTimeout time.Duration, logger *log.Logger) *grpcConnector {
	return &grpcConnector{
		identity:    identity,
		dialTimeout: dialTimeout,
		logger:      logger,
		conns:       make(map[string]*grpc.ClientConn),
	}
}

func (c *grpcConnector) Endorser(ctx context.Context, node fab.Node) (peer.EndorserClient, error) {
	conn, err := c.DialConnection(ctx, node)
	if err != nil {
		return nil, err
	}
	return peer.NewEndorserClient(conn), nil
}

func (c *grpcConnector) Broadcast(ctx context.Context, node fab.Node) (orderer.AtomicBroadcast_BroadcastClient, error) {
	conn, err := c.DialConnection(ctx, node)
	if err != nil {
		return nil, err
	}
	return orderer.NewAtomicBroadcastClient(conn).Broadcast(ctx)
}

func (c *grpcConnector) Deliver(ctx context.Context, node fab.Node) (orderer.AtomicBroadcast_DeliverClient, error) {
	conn, err := c.DialConnection(ctx, node)
	if err != nil {
		return nil, err
	}
	return orderer.NewAtomicBroadcastClient(conn).Deliver(ctx)
}

func (c *grpcConnector) DeliverFiltered(ctx context.Context, node fab.Node) (peer.Deliver_DeliverFilteredClient, error) {
	conn, err := c.DialConnection(ctx, node)
	if err != nil {
		return nil, err
	}
	return peer.NewDeliverClient(conn).DeliverFiltered(ctx)
}

// DialConnection returns the cached connection to node, dialing it first if
// needed.
func (c *grpcConnector) DialConnection(ctx context.Context, node fab.Node) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[node.Address]; ok {
		return conn, nil
	}

	gRPCClient, err := comm.NewGRPCClient(c.clientConfig(node), c.logger)
	if err != nil {
		return nil, errors.WithMessagef(err, "error connecting to %s", node.Address)
	}
	conn, err := gRPCClient.NewConnection(ctx, node.Address)
	if err != nil {
		return nil, err
	}
	c.conns[node.Address] = conn
	return conn, nil
}

func (c *grpcConnector) clientConfig(node fab.Node) comm.ClientConfig {
	clientConfig := comm.ClientConfig{
		DialTimeout: c.dialTimeout,
	}

	if len(node.TLSCACert) == 0 {
		return clientConfig
	}

	clientConfig.SecOpts = comm.SecureOptions{
		UseTLS:             true,
		ServerRootCAs:      [][]byte{node.TLSCACert},
		ServerNameOverride: node.ServerHostOverride,
	}
	if c.identity != nil && len(c.identity.TLSCert) > 0 && len(c.identity.TLSKey) > 0 {
		clientConfig.SecOpts.RequireClientCert = true
		clientConfig.SecOpts.Certificate = c.identity.TLSCert
		clientConfig.SecOpts.Key = c.identity.TLSKey
	}
	return clientConfig
}

func (c *grpcConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for address, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to close connection to %s", address)
		}
		delete(c.conns, address)
	}
	return firstErr
}
