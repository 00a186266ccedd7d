package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Context keys for storing authenticated user information.
type contextKey string

const contextKeyClaims contextKey = "jwt_claims"

// Role represents an authorized persona within the platform.
type Role string

// Supported staff roles.
const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleWaiter  Role = "waiter"
	RoleCashier Role = "cashier"
	RoleKitchen Role = "kitchen"
	RoleExpo    Role = "expo"
)

var allowedRoles = map[Role]struct{}{
	RoleAdmin:   {},
	RoleManager: {},
	RoleWaiter:  {},
	RoleCashier: {},
	RoleKitchen: {},
	RoleExpo:    {},
}

// ValidRole reports whether the role is one of the supported personas.
func ValidRole(r Role) bool {
	_, ok := allowedRoles[r]
	return ok
}

// Claims represents identity data extracted from the inbound request.
type Claims struct {
	Subject  uuid.UUID
	TenantID uuid.UUID
	Role     Role
}

// Verifier validates bearer tokens and produces Claims.
type Verifier struct {
	Secret []byte
	Issuer string
	// AllowStatic accepts "subject|tenant|role" bearer tokens. Used by the
	// development server and the test suite; never enabled in production.
	AllowStatic bool
	Now         func() time.Time
}

// NewVerifier constructs a Verifier with a default clock.
func NewVerifier(secret, issuer string, allowStatic bool) *Verifier {
	return &Verifier{
		Secret:      []byte(secret),
		Issuer:      strings.TrimSpace(issuer),
		AllowStatic: allowStatic,
		Now:         time.Now,
	}
}

// Verify parses a bearer token into Claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	if v == nil {
		return nil, errors.New("verifier not configured")
	}
	if v.AllowStatic && strings.Count(token, "|") == 2 {
		return parseStaticToken(token)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(func() time.Time { return v.Now() }))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if len(v.Secret) == 0 {
			return nil, errors.New("signing secret not configured")
		}
		return v.Secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("token validation failed")
	}

	subject, err := claimUUID(claims, "sub")
	if err != nil {
		return nil, err
	}
	tenantID, err := claimUUID(claims, "tenant_id")
	if err != nil {
		return nil, err
	}
	roleStr, _ := claims["role"].(string)
	role := Role(strings.ToLower(strings.TrimSpace(roleStr)))
	if !ValidRole(role) {
		return nil, fmt.Errorf("unsupported role %q", roleStr)
	}

	return &Claims{Subject: subject, TenantID: tenantID, Role: role}, nil
}

func parseStaticToken(token string) (*Claims, error) {
	parts := strings.Split(token, "|")
	if len(parts) != 3 {
		return nil, errors.New("malformed static token")
	}
	subject, err := uuid.Parse(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("static token subject: %w", err)
	}
	tenantID, err := uuid.Parse(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, fmt.Errorf("static token tenant: %w", err)
	}
	role := Role(strings.ToLower(strings.TrimSpace(parts[2])))
	if !ValidRole(role) {
		return nil, fmt.Errorf("unsupported role %q", parts[2])
	}
	return &Claims{Subject: subject, TenantID: tenantID, Role: role}, nil
}

func claimUUID(claims jwt.MapClaims, key string) (uuid.UUID, error) {
	raw, _ := claims[key].(string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("token claim %q missing", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("token claim %q: %w", key, err)
	}
	return id, nil
}

// SignToken mints an HS256 token for the given identity. Used by the dev
// token endpoint and the test suite.
func SignToken(secret []byte, issuer string, claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       claims.Subject.String(),
		"tenant_id": claims.TenantID.String(),
		"role":      string(claims.Role),
		"iss":       issuer,
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}

// Authenticate enforces bearer authentication before invoking the next handler.
func (v *Verifier) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "missing authorization", http.StatusUnauthorized)
			return
		}
		claims, err := v.Verify(token)
		if err != nil {
			http.Error(w, "invalid authorization token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz != "" {
		parts := strings.SplitN(authz, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	// Browsers cannot set headers on websocket upgrades.
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// FromContext extracts the Claims previously attached by Authenticate.
func FromContext(ctx context.Context) (*Claims, error) {
	if ctx == nil {
		return nil, errors.New("missing context")
	}
	if claims, ok := ctx.Value(contextKeyClaims).(*Claims); ok && claims != nil {
		return claims, nil
	}
	return nil, errors.New("missing identity in context")
}

// WithClaims attaches claims to a context. Used by tests and the websocket
// accept path.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKeyClaims, claims)
}

// RequireRole ensures the authenticated user has one of the allowed roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := FromContext(r.Context())
			if err != nil {
				http.Error(w, "missing identity", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				http.Error(w, "insufficient role", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission ensures the authenticated user's role grants the permission.
func RequirePermission(perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := FromContext(r.Context())
			if err != nil {
				http.Error(w, "missing identity", http.StatusUnauthorized)
				return
			}
			if !HasPermission(claims.Role, perm) {
				http.Error(w, "permission denied", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
