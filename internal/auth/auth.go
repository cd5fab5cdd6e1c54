// Package auth resolves the calling user from a bearer token and decides
// what that user may do.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ejgdev/e5n/internal/apperr"
	"github.com/ejgdev/e5n/internal/model"
)

// UserLoader fetches a user with permissions.
type UserLoader interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
}

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Authenticator issues and verifies HS256 bearer tokens whose subject is a
// user id.
type Authenticator struct {
	secret []byte
	users  UserLoader
	now    func() time.Time
}

// New constructs an Authenticator.
func New(secret string, users UserLoader) *Authenticator {
	return &Authenticator{secret: []byte(secret), users: users, now: time.Now}
}

// Issue signs a token for userID valid for ttl.
func (a *Authenticator) Issue(userID int64, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks token and returns its user id.
func (a *Authenticator) Verify(token string) (int64, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, apperr.Wrap(err, apperr.CodeUnauthenticated, "token expired")
		}
		return 0, apperr.Wrap(err, apperr.CodeUnauthenticated, "invalid token")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.CodeUnauthenticated, "token subject is not a user id")
	}
	return id, nil
}

// Middleware attaches the bearer token's user to the request context.
// Requests without an Authorization header continue anonymously; a header
// that does not verify is rejected through onError.
func (a *Authenticator) Middleware(onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				onError(w, r, apperr.New(apperr.CodeUnauthenticated, "authorization header must be a bearer token"))
				return
			}
			id, err := a.Verify(strings.TrimSpace(token))
			if err != nil {
				onError(w, r, err)
				return
			}
			u, err := a.users.GetUser(r.Context(), id)
			if err != nil {
				if errors.Is(err, apperr.ErrResourceMissing) {
					err = apperr.New(apperr.CodeUnauthenticated, "token user does not exist")
				}
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

// RequireUser rejects anonymous requests.
func RequireUser(onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := UserFrom(r.Context()); !ok {
				onError(w, r, apperr.ErrUnauthenticated)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type userKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom returns the authenticated user, if any.
func UserFrom(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey{}).(*model.User)
	return u, ok && u != nil
}
