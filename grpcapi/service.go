package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"github.com/auth9/auth9core/core"
)

// Request/response types mirror tokenexchange.proto's messages field for
// field (see that file's doc comment for why these are hand-kept structs
// rather than protoc-generated types).

type ExchangeTokenRequest struct {
	IdentityToken string `json:"identity_token"`
	TenantID      string `json:"tenant_id"`
	ServiceID     string `json:"service_id"`
}

type ExchangeTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

type ValidateTokenRequest struct {
	AccessToken string `json:"access_token"`
	Audience    string `json:"audience,omitempty"`
}

type ValidateTokenResponse struct {
	Valid    bool   `json:"valid"`
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Error    string `json:"error,omitempty"`
}

type GetUserRolesRequest struct {
	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id"`
	ServiceID string `json:"service_id,omitempty"`
}

type RoleSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ServiceID string `json:"service_id"`
}

type GetUserRolesResponse struct {
	Roles       []RoleSummary `json:"roles"`
	Permissions []string      `json:"permissions"`
}

type IntrospectTokenRequest struct {
	Token string `json:"token"`
}

type IntrospectTokenResponse struct {
	Active      bool     `json:"active"`
	Sub         string   `json:"sub,omitempty"`
	Email       string   `json:"email,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Exp         int64    `json:"exp,omitempty"`
	Iat         int64    `json:"iat,omitempty"`
	Iss         string   `json:"iss,omitempty"`
	Aud         string   `json:"aud,omitempty"`
}

// TokenExchangeServer is the Go-native counterpart of tokenexchange.proto's
// TokenExchange service.
type TokenExchangeServer interface {
	ExchangeToken(ctx context.Context, req *ExchangeTokenRequest) (*ExchangeTokenResponse, error)
	ValidateToken(ctx context.Context, req *ValidateTokenRequest) (*ValidateTokenResponse, error)
	GetUserRoles(ctx context.Context, req *GetUserRolesRequest) (*GetUserRolesResponse, error)
	IntrospectToken(ctx context.Context, req *IntrospectTokenRequest) (*IntrospectTokenResponse, error)
}

// roleLookupStore is the narrow slice of core.Store that GetUserRoles
// needs — the TenantUser/UserTenantRole/Role/RolePermission join spec.md
// §4.2 describes the RBAC layer using. A core.Store satisfies this
// automatically; kept narrow so tests don't need to fake the other twenty
// sub-stores.
type roleLookupStore interface {
	TenantUsers() core.TenantUserStore
	UserTenantRoles() core.UserTenantRoleStore
	Roles() core.RoleStore
	RolePermissions() core.RolePermissionStore
}

// tokenExchangeServer implements TokenExchangeServer over the same
// core.TokenService/core.Store collaborators httpapi wires, so the gRPC and
// HTTP surfaces stay behaviorally identical (spec.md §6: "thin adapter over
// A-G").
type tokenExchangeServer struct {
	tokens core.TokenService
	store  roleLookupStore
}

// NewTokenExchangeServer constructs the TokenExchange gRPC service.
func NewTokenExchangeServer(tokens core.TokenService, store core.Store) TokenExchangeServer {
	return &tokenExchangeServer{tokens: tokens, store: store}
}

func (s *tokenExchangeServer) ExchangeToken(ctx context.Context, req *ExchangeTokenRequest) (*ExchangeTokenResponse, error) {
	result, err := s.tokens.Exchange(ctx, req.IdentityToken, req.TenantID, req.ServiceID)
	if err != nil {
		return nil, err
	}
	return &ExchangeTokenResponse{
		AccessToken:  result.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    result.ExpiresIn,
		RefreshToken: result.RefreshToken,
	}, nil
}

func (s *tokenExchangeServer) ValidateToken(ctx context.Context, req *ValidateTokenRequest) (*ValidateTokenResponse, error) {
	claims, err := s.tokens.Verify(ctx, req.AccessToken)
	if err != nil {
		return &ValidateTokenResponse{Valid: false, Error: err.Error()}, nil
	}
	if req.Audience != "" && claims.Audience != req.Audience {
		return &ValidateTokenResponse{Valid: false, Error: "audience mismatch"}, nil
	}
	return &ValidateTokenResponse{Valid: true, UserID: claims.Subject, TenantID: claims.TenantID}, nil
}

// GetUserRoles resolves a user's tenant-scoped role grants via the
// TenantUser/UserTenantRole/Role/RolePermission join spec.md §4.2 describes
// the RBAC layer using, optionally narrowed to one service.
func (s *tokenExchangeServer) GetUserRoles(ctx context.Context, req *GetUserRolesRequest) (*GetUserRolesResponse, error) {
	tu, err := s.store.TenantUsers().Get(ctx, req.UserID, req.TenantID)
	if err != nil {
		return nil, err
	}
	grants, err := s.store.UserTenantRoles().ListForTenantUser(ctx, tu.ID)
	if err != nil {
		return nil, err
	}

	resp := &GetUserRolesResponse{Roles: []RoleSummary{}, Permissions: []string{}}
	seenPermission := map[string]bool{}
	for _, grant := range grants {
		role, err := s.store.Roles().GetByID(ctx, grant.RoleID)
		if err != nil {
			continue
		}
		if req.ServiceID != "" && role.ServiceID != req.ServiceID {
			continue
		}
		resp.Roles = append(resp.Roles, RoleSummary{ID: role.ID, Name: role.Name, ServiceID: role.ServiceID})

		permissions, err := s.store.RolePermissions().PermissionsForRole(ctx, role.ID)
		if err != nil {
			continue
		}
		for _, p := range permissions {
			if !seenPermission[p.Code] {
				seenPermission[p.Code] = true
				resp.Permissions = append(resp.Permissions, p.Code)
			}
		}
	}
	return resp, nil
}

func (s *tokenExchangeServer) IntrospectToken(ctx context.Context, req *IntrospectTokenRequest) (*IntrospectTokenResponse, error) {
	result, err := s.tokens.Introspect(ctx, req.Token)
	if err != nil || result == nil {
		return &IntrospectTokenResponse{Active: false}, nil
	}
	return &IntrospectTokenResponse{
		Active:      result.Active,
		Sub:         result.Subject,
		Email:       result.Email,
		TenantID:    result.TenantID,
		Roles:       result.Roles,
		Permissions: result.Permissions,
		Exp:         result.ExpiresAt,
		Iat:         result.IssuedAt,
		Iss:         result.Issuer,
		Aud:         result.Audience,
	}, nil
}

// ServiceDesc is the hand-written grpc.ServiceDesc for TokenExchange (see
// tokenexchange.proto's doc comment for why this isn't protoc-generated).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "auth9core.grpcapi.TokenExchange",
	HandlerType: (*TokenExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ExchangeToken", Handler: exchangeTokenHandler},
		{MethodName: "ValidateToken", Handler: validateTokenHandler},
		{MethodName: "GetUserRoles", Handler: getUserRolesHandler},
		{MethodName: "IntrospectToken", Handler: introspectTokenHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tokenexchange.proto",
}

// RegisterTokenExchangeServer registers srv on s under ServiceDesc.
func RegisterTokenExchangeServer(s grpc.ServiceRegistrar, srv TokenExchangeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func exchangeTokenHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ExchangeTokenRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TokenExchangeServer).ExchangeToken(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/auth9core.grpcapi.TokenExchange/ExchangeToken"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TokenExchangeServer).ExchangeToken(ctx, req.(*ExchangeTokenRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func validateTokenHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ValidateTokenRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TokenExchangeServer).ValidateToken(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/auth9core.grpcapi.TokenExchange/ValidateToken"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TokenExchangeServer).ValidateToken(ctx, req.(*ValidateTokenRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func getUserRolesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetUserRolesRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TokenExchangeServer).GetUserRoles(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/auth9core.grpcapi.TokenExchange/GetUserRoles"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TokenExchangeServer).GetUserRoles(ctx, req.(*GetUserRolesRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func introspectTokenHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(IntrospectTokenRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TokenExchangeServer).IntrospectToken(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/auth9core.grpcapi.TokenExchange/IntrospectToken"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TokenExchangeServer).IntrospectToken(ctx, req.(*IntrospectTokenRequest))
	}
	return interceptor(ctx, req, info, handler)
}
