package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/matheus3301/chatmail/internal/account"
	"github.com/matheus3301/chatmail/internal/api"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server exposes the account API on a Unix socket only the owner can open.
type Server struct {
	grpc       *grpc.Server
	lis        net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer binds the socket and registers every API service.
func NewServer(
	p Params,
	logger *zap.Logger,
	accountSvc *api.AccountService,
	chatSvc *api.ChatService,
	messageSvc *api.MessageService,
	callSvc *api.CallService,
	eventSvc *api.EventService,
) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = account.SocketPath(p.AccountName)
	}
	lis, err := listenSocket(socketPath)
	if err != nil {
		return nil, err
	}

	logger = logger.Named("rpc")
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(recoverUnary(logger), logUnary(logger)),
		grpc.ChainStreamInterceptor(logStream(logger)),
	)
	services := []struct {
		desc *grpc.ServiceDesc
		impl any
	}{
		{&api.AccountServiceDesc, accountSvc},
		{&api.ChatServiceDesc, chatSvc},
		{&api.MessageServiceDesc, messageSvc},
		{&api.CallServiceDesc, callSvc},
		{&api.EventServiceDesc, eventSvc},
	}
	for _, s := range services {
		srv.RegisterService(s.desc, s.impl)
	}

	return &Server{grpc: srv, lis: lis, socketPath: socketPath, logger: logger}, nil
}

// listenSocket replaces a leftover socket file from a crashed daemon. The
// account lock is already held, so no live daemon owns it.
func listenSocket(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = lis.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return lis, nil
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("serving", zap.String("socket", s.socketPath))
	return s.grpc.Serve(s.lis)
}

// Stop drains in-flight calls. Streams still open when ctx ends are cut.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("stopping")
	drained := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.grpc.Stop()
		<-drained
	}
	_ = os.Remove(s.socketPath)
}

func logUnary(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Debug("call failed",
				zap.String("method", info.FullMethod),
				zap.Stringer("code", status.Code(err)),
				zap.Duration("took", time.Since(start)),
				zap.Error(err))
		}
		return resp, err
	}
}

func logStream(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		logger.Debug("stream opened", zap.String("method", info.FullMethod))
		err := handler(srv, ss)
		logger.Debug("stream closed", zap.String("method", info.FullMethod), zap.Error(err))
		return err
	}
}

// recoverUnary turns a handler panic into an Internal error so one bad
// request cannot take the daemon down.
func recoverUnary(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("handler panic", zap.String("method", info.FullMethod), zap.Any("panic", r), zap.Stack("stack"))
				err = status.Errorf(codes.Internal, "%s: internal error", info.FullMethod)
			}
		}()
		return handler(ctx, req)
	}
}
