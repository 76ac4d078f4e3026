package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/EllectronChik/server7x/models"
	"github.com/EllectronChik/server7x/repositories"
	"github.com/golang-jwt/jwt/v4"
)

// Имена JWT claims, как их выдаёт сервис авторизации.
const (
	jwtClaimUserID = "user_id"
	jwtClaimRole   = "role"
	roleAdmin      = "admin"
)

// CredentialResolver turns the token of a subscribe message into the
// caller's identity.
type CredentialResolver interface {
	Resolve(ctx context.Context, token string) (models.Identity, error)
}

type credentialResolver struct {
	tokens    repositories.TokenRepository
	jwtSecret []byte
}

// NewCredentialResolver accepts stored API tokens and, when jwtSecret is
// not empty, HS256 JWTs.
func NewCredentialResolver(tokens repositories.TokenRepository, jwtSecret string) CredentialResolver {
	return &credentialResolver{tokens: tokens, jwtSecret: []byte(jwtSecret)}
}

func (r *credentialResolver) Resolve(ctx context.Context, token string) (models.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Identity{}, ErrAuthenticationFailed
	}

	if len(r.jwtSecret) > 0 && strings.Count(token, ".") == 2 {
		return r.resolveJWT(token)
	}

	id, err := r.tokens.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, repositories.ErrTokenNotFound) {
			return models.Identity{}, ErrAuthenticationFailed
		}
		return models.Identity{}, fmt.Errorf("failed to resolve token: %w", err)
	}
	return id, nil
}

func (r *credentialResolver) resolveJWT(raw string) (models.Identity, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Identity{}, ErrAuthenticationFailed
	}

	userID, err := userIDFromClaims(claims)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	role, _ := claims[jwtClaimRole].(string)
	return models.Identity{UserID: userID, IsStaff: role == roleAdmin}, nil
}

func userIDFromClaims(claims jwt.MapClaims) (int, error) {
	userIDClaim, ok := claims[jwtClaimUserID]
	if !ok {
		return 0, fmt.Errorf("missing '%s' claim in token", jwtClaimUserID)
	}

	var userID int
	switch v := userIDClaim.(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("'%s' claim is not an integer: %f", jwtClaimUserID, v)
		}
		userID = int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid '%s' claim: %w", jwtClaimUserID, err)
		}
		userID = n
	default:
		return 0, fmt.Errorf("invalid type for '%s' claim: expected float64 or string, got %T", jwtClaimUserID, userIDClaim)
	}

	if userID <= 0 {
		return 0, fmt.Errorf("invalid user ID value in '%s' claim: %d", jwtClaimUserID, userID)
	}
	return userID, nil
}
