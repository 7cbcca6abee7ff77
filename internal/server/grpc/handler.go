package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	pb "github.com/dmitrijs2005/gatekeeper/internal/proto"
	"github.com/dmitrijs2005/gatekeeper/internal/server/models"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps service errors to gRPC status codes. Authorization failures
// share one message regardless of their cause.
func toStatus(err error) error {
	switch {
	case errors.Is(err, common.ErrLedgerUnavailable):
		return status.Error(codes.Unavailable, "service unavailable")
	case common.IsAuthError(err):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, common.ErrorValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrorAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, "not found")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func tokenResponse(p *services.TokenPair) *pb.TokenResponse {
	expiresIn := int64(time.Until(p.AccessTokenExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return &pb.TokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	}
}

func userResponse(u *models.User) *pb.UserResponse {
	return &pb.UserResponse{
		Id:              u.ID,
		Name:            u.Name,
		Username:        u.UserName,
		Email:           u.Email,
		Phone:           u.Phone,
		VerifiedAccount: u.Verified,
	}
}

func (s *GRPCServer) Register(ctx context.Context, req *pb.RegisterRequest) (*pb.UserResponse, error) {
	user, err := s.users.Register(ctx, services.RegisterInput{
		Name:     req.GetName(),
		UserName: req.GetUsername(),
		Email:    req.GetEmail(),
		Phone:    req.GetPhone(),
		Password: req.GetPassword(),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return userResponse(user), nil
}

func (s *GRPCServer) Login(ctx context.Context, req *pb.LoginRequest) (*pb.TokenResponse, error) {
	if req.GetUsername() == "" || req.GetPassword() == "" {
		return nil, status.Error(codes.InvalidArgument, "username and password are required")
	}

	pair, err := s.sessions.Login(ctx, req.GetUsername(), req.GetPassword())
	if err != nil {
		return nil, toStatus(err)
	}
	return tokenResponse(pair), nil
}

func (s *GRPCServer) Refresh(ctx context.Context, req *pb.RefreshRequest) (*pb.TokenResponse, error) {
	if req.GetRefreshToken() == "" {
		return nil, status.Error(codes.InvalidArgument, "refresh_token is required")
	}

	pair, err := s.sessions.Refresh(ctx, req.GetRefreshToken())
	if err != nil {
		return nil, toStatus(err)
	}
	return tokenResponse(pair), nil
}

func (s *GRPCServer) Logout(ctx context.Context, req *pb.LogoutRequest) (*pb.LogoutResponse, error) {
	subj, ok := services.SubjectFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}

	scope, err := services.ParseScope(req.GetScope())
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.sessions.LogoutSubject(ctx, subj, scope, req.GetRefreshToken()); err != nil {
		return nil, toStatus(err)
	}
	return &pb.LogoutResponse{}, nil
}

func (s *GRPCServer) Me(ctx context.Context, _ *pb.MeRequest) (*pb.UserResponse, error) {
	subj, ok := services.SubjectFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}

	user, err := s.users.GetByID(ctx, subj.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return userResponse(user), nil
}

func (s *GRPCServer) ChangePassword(ctx context.Context, req *pb.ChangePasswordRequest) (*pb.ChangePasswordResponse, error) {
	subj, ok := services.SubjectFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	if req.GetCurrentPassword() == "" || req.GetNewPassword() == "" {
		return nil, status.Error(codes.InvalidArgument, "current_password and new_password are required")
	}

	if err := s.users.ChangePassword(ctx, subj.UserID, req.GetCurrentPassword(), req.GetNewPassword()); err != nil {
		return nil, toStatus(err)
	}
	return &pb.ChangePasswordResponse{}, nil
}

func (s *GRPCServer) DeleteAccount(ctx context.Context, req *pb.DeleteAccountRequest) (*pb.DeleteAccountResponse, error) {
	subj, ok := services.SubjectFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	if req.GetPassword() == "" {
		return nil, status.Error(codes.InvalidArgument, "password is required")
	}

	if err := s.users.Delete(ctx, subj.UserID, req.GetPassword()); err != nil {
		return nil, toStatus(err)
	}
	return &pb.DeleteAccountResponse{}, nil
}
