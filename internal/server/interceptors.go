package server

import (
	"context"
	"crypto/subtle"
	"path"

	"github.com/matheus3301/deskline/internal/metrics"
	"github.com/matheus3301/deskline/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	grpcstatus "google.golang.org/grpc/status"
)

// KeySet holds the API keys the daemon accepts. An empty set disables
// authentication, which is only appropriate on the local unix socket.
type KeySet struct {
	keys [][]byte
}

// NewKeySet builds a KeySet, skipping empty keys.
func NewKeySet(keys []string) KeySet {
	var ks KeySet
	for _, k := range keys {
		if k != "" {
			ks.keys = append(ks.keys, []byte(k))
		}
	}
	return ks
}

// Enabled reports whether any key is configured.
func (ks KeySet) Enabled() bool { return len(ks.keys) > 0 }

// Valid reports whether key is accepted.
func (ks KeySet) Valid(key string) bool {
	if !ks.Enabled() {
		return true
	}
	for _, k := range ks.keys {
		if subtle.ConstantTimeCompare(k, []byte(key)) == 1 {
			return true
		}
	}
	return false
}

func (ks KeySet) check(ctx context.Context) error {
	if !ks.Enabled() {
		return nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(wire.APIKeyHeader)
	if len(values) == 0 {
		return grpcstatus.Error(codes.Unauthenticated, "missing api key")
	}
	if !ks.Valid(values[0]) {
		return grpcstatus.Error(codes.Unauthenticated, "invalid api key")
	}
	return nil
}

// UnaryInterceptor authenticates and counts unary calls.
func UnaryInterceptor(ks KeySet, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		method := path.Base(info.FullMethod)
		if err := ks.check(ctx); err != nil {
			metrics.RPCRequestsTotal.WithLabelValues(method, codes.Unauthenticated.String()).Inc()
			logger.Warn("rejected call", zap.String("method", method), zap.Error(err))
			return nil, err
		}
		resp, err := handler(ctx, req)
		metrics.RPCRequestsTotal.WithLabelValues(method, grpcstatus.Code(err).String()).Inc()
		return resp, err
	}
}

// StreamInterceptor authenticates and counts streaming calls.
func StreamInterceptor(ks KeySet, logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		method := path.Base(info.FullMethod)
		if err := ks.check(ss.Context()); err != nil {
			metrics.RPCRequestsTotal.WithLabelValues(method, codes.Unauthenticated.String()).Inc()
			logger.Warn("rejected stream", zap.String("method", method), zap.Error(err))
			return err
		}
		err := handler(srv, ss)
		metrics.RPCRequestsTotal.WithLabelValues(method, grpcstatus.Code(err).String()).Inc()
		return err
	}
}
