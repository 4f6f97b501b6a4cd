package comm

import (
	"context"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_logrus "github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

const MaxTry = 3

type GRPCClient struct {
	dialOpts []grpc.DialOption
	timeout  time.Duration
	logger   *log.Logger
}

// NewGRPCClient creates a client whose connections log every call through
// logger.
func NewGRPCClient(config ClientConfig, logger *log.Logger) (*GRPCClient, error) {
	dialOpts, err := config.dialOptions()
	if err != nil {
		return nil, err
	}

	entry := log.NewEntry(logger)
	dialOpts = append(dialOpts,
		grpc.WithUnaryInterceptor(grpc_middleware.ChainUnaryClient(
			grpc_logrus.UnaryClientInterceptor(entry),
		)),
		grpc.WithStreamInterceptor(grpc_middleware.ChainStreamClient(
			grpc_logrus.StreamClientInterceptor(entry),
		)),
	)

	timeout := config.DialTimeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}

	return &GRPCClient{
		dialOpts: dialOpts,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// NewConnection dials address, retrying up to MaxTry times.
func (c *GRPCClient) NewConnection(ctx context.Context, address string) (*grpc.ClientConn, error) {
	var err error
	for i := 1; i <= MaxTry; i++ {
		var conn *grpc.ClientConn
		conn, err = c.dial(ctx, address)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			break
		}
		c.logger.WithError(err).Debugf("Dial %s failed (attempt %d/%d)", address, i, MaxTry)
	}
	return nil, errors.Wrapf(err, "failed to dial %s", address)
}

func (c *GRPCClient) dial(ctx context.Context, address string) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return grpc.DialContext(ctx, address, c.dialOpts...)
}
