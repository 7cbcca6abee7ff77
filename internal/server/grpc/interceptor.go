package grpc

import (
	"context"
	"strings"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	pb "github.com/dmitrijs2005/gatekeeper/internal/proto"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var protectedMethods = map[string]bool{
	pb.AuthService_Logout_FullMethodName:         true,
	pb.AuthService_Me_FullMethodName:             true,
	pb.AuthService_ChangePassword_FullMethodName: true,
	pb.AuthService_DeleteAccount_FullMethodName:  true,
}

// accessTokenInterceptor authorizes protected methods with the bearer token
// from the authorization metadata key.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if !protectedMethods[info.FullMethod] {
		return handler(ctx, req)
	}

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(common.AuthorizationHeaderName); len(values) > 0 {
			accessToken = bearer(values[0])
		}
	}
	if accessToken == "" {
		s.logger.Warn(ctx, "authorization denied", "reason", "missing bearer token", "method", info.FullMethod)
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}

	subj, err := s.gate.Authorize(ctx, accessToken, models.TokenTypeAccess)
	if err != nil {
		return nil, toStatus(err)
	}

	return handler(services.WithSubject(ctx, subj), req)
}

func bearer(v string) string {
	if len(v) < len(common.BearerPrefix) || !strings.EqualFold(v[:len(common.BearerPrefix)], common.BearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(common.BearerPrefix):])
}

func (s *GRPCServer) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Info(ctx, "rpc",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration", time.Since(start),
	)
	return resp, err
}
