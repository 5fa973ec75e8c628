package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/phonemart/api/internal/platform/httpx"
)

const (
	defaultRoleClaim    = "role"
	defaultFallbackRole = RoleCustomer
)

var (
	// ErrTokenExpired signals that the provided bearer token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the provided bearer token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Authenticator verifies HMAC-signed bearer tokens and attaches the resulting
// identity to the request context.
type Authenticator struct {
	secret []byte
	issuer string

	roleClaim    string
	fallbackRole string
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithIssuer requires tokens to carry the given issuer claim.
func WithIssuer(issuer string) Option {
	return func(a *Authenticator) {
		a.issuer = strings.TrimSpace(issuer)
	}
}

// WithRoleClaim overrides the custom claim used for role extraction.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		claim = strings.TrimSpace(claim)
		if claim != "" {
			a.roleClaim = claim
		}
	}
}

// NewAuthenticator constructs an Authenticator for the shared signing secret.
func NewAuthenticator(secret string, opts ...Option) (*Authenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	a := &Authenticator{
		secret:       []byte(secret),
		roleClaim:    defaultRoleClaim,
		fallbackRole: defaultFallbackRole,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Verify parses and validates the raw token string, returning the identity it encodes.
func (a *Authenticator) Verify(raw string) (*Identity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %q", token.Method.Alg())
		}
		return a.secret, nil
	})
	if err != nil {
		var validationErr *jwt.ValidationError
		if errors.As(err, &validationErr) && validationErr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	if a.issuer != "" {
		if !claims.VerifyIssuer(a.issuer, true) {
			return nil, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
		}
	}

	subject, _ := claims["sub"].(string)
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	role, _ := claims[a.roleClaim].(string)
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case RoleCustomer, RoleStaff, RoleAdmin:
	default:
		role = a.fallbackRole
	}

	return &Identity{UserID: subject, Role: role}, nil
}

// Middleware authenticates requests carrying a bearer token and stores the
// identity on the request context. Requests without a token pass through
// unauthenticated; use RequireAuthenticated or RequireRole to enforce access.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := a.Verify(raw)
			if err != nil {
				status := http.StatusUnauthorized
				code := "unauthorized"
				message := "invalid bearer token"
				if errors.Is(err, ErrTokenExpired) {
					code = "token_expired"
					message = "bearer token expired"
				}
				httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuthenticated rejects requests that carry no verified identity.
func RequireAuthenticated() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := IdentityFromContext(r.Context()); !ok {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthorized", "authentication required", http.StatusUnauthorized))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole rejects requests whose identity does not carry any of the given roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthorized", "authentication required", http.StatusUnauthorized))
				return
			}
			if !identity.HasAnyRole(roles...) {
				httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "insufficient role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
