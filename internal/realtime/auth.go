package realtime

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/soulline/backend/internal/models"
	"github.com/soulline/backend/internal/utils"
)

// Identity is the authenticated principal behind one socket.
type Identity struct {
	UserID string
	Role   models.UserRole
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Role        string         `json:"role"`
	AppMetadata map[string]any `json:"app_metadata"` // {"role":"admin"} for staff
}

// TokenVerifier validates the bearer token carried in join_session frames.
type TokenVerifier interface {
	Verify(raw string) (Identity, error)
}

// HS256Verifier checks tokens signed with the shared secret of the auth
// service.
type HS256Verifier struct {
	Secret []byte
}

func (v *HS256Verifier) Verify(raw string) (Identity, error) {
	const op = "HS256Verifier.Verify"

	if raw == "" {
		return Identity{}, utils.E(utils.CodeUnauthorized, op, "missing bearer token", nil)
	}

	claims := &tokenClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return v.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || tok == nil || !tok.Valid {
		return Identity{}, utils.E(utils.CodeUnauthorized, op, "invalid token", err)
	}
	if claims.Subject == "" {
		return Identity{}, utils.E(utils.CodeUnauthorized, op, "missing subject", nil)
	}

	role := models.UserRole(claims.Role)
	if claims.AppMetadata != nil {
		if v, ok := claims.AppMetadata["role"]; ok {
			if s, ok := v.(string); ok && s != "" {
				role = models.UserRole(s)
			}
		}
	}
	return Identity{UserID: claims.Subject, Role: role}, nil
}
