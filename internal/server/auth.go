package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/MagloireKITIO/findam-rencontre/internal/storage"
)

// ErrAuthRejected covers every admission failure: missing, malformed or expired
// token, and tokens resolving to no user record.
var ErrAuthRejected = errors.New("authentication rejected")

// UserSource resolves token subjects to user records.
type UserSource interface {
	UserByID(ctx context.Context, id int64) (storage.User, error)
}

// TokenAuthenticator verifies the bearer credential of a connection handshake
// before any registry join happens.
type TokenAuthenticator struct {
	logger *zap.SugaredLogger
	secret []byte
	users  UserSource
}

func NewTokenAuthenticator(logger *zap.SugaredLogger, secret []byte, users UserSource) *TokenAuthenticator {
	return &TokenAuthenticator{
		logger: logger,
		secret: secret,
		users:  users,
	}
}

// Authenticate extracts the bearer token from the query string or the
// Authorization header, verifies it and resolves the subject to a user
func (a *TokenAuthenticator) Authenticate(r *http.Request) (storage.User, error) {
	tokenString := bearerToken(r)
	if tokenString == "" {
		return storage.User{}, ErrAuthRejected
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrAuthRejected
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return storage.User{}, ErrAuthRejected
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id < 1 {
		return storage.User{}, ErrAuthRejected
	}

	user, err := a.users.UserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			a.logger.Debugf("Token subject %d resolves to no user", id)
			return storage.User{}, ErrAuthRejected
		}
		return storage.User{}, err
	}

	return user, nil
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	auth := r.Header.Get("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}

	return ""
}
