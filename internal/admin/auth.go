package admin

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	authorizationKey = "authorization"
	bearerPrefix     = "Bearer "
)

// TokenAuth rejects calls whose bearer token does not match tokenHash.
//
// Precondition: tokenHash must be a bcrypt hash.
func TokenAuth(tokenHash string) grpc.UnaryServerInterceptor {
	hash := []byte(tokenHash)
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		token, ok := bearerToken(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		if err := bcrypt.CompareHashAndPassword(hash, []byte(token)); err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid bearer token")
		}
		return handler(ctx, req)
	}
}

func bearerToken(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	for _, v := range md.Get(authorizationKey) {
		if token, found := strings.CutPrefix(v, bearerPrefix); found && token != "" {
			return token, true
		}
	}
	return "", false
}

// HashToken returns the bcrypt hash to configure as admin.token_hash.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// BearerToken attaches token to every call as per-RPC credentials.
func BearerToken(token string) credentials.PerRPCCredentials {
	return bearerCredentials(token)
}

type bearerCredentials string

func (b bearerCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{authorizationKey: bearerPrefix + string(b)}, nil
}

// RequireTransportSecurity is false: the admin listener defaults to loopback.
func (bearerCredentials) RequireTransportSecurity() bool { return false }
