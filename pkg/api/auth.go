package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"

	"github.com/cuemby/ciorch/pkg/config"
	"github.com/cuemby/ciorch/pkg/orcherr"
)

type ctxKey int

const ctxKeyToken ctxKey = iota

// claims is the JWT payload minted for POST /api/auth/login.
type claims struct {
	Subject string `json:"sub"`
	jwt.StandardClaims
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleLogin exchanges the single configured operator credential for a
// bearer token (§6 POST /api/auth/login). There is no user store: the
// orchestrator authenticates exactly one operator identity per process.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, r, orcherr.Validation("malformed login body"))
		return
	}

	if req.Username == "" || req.Username != s.cfg.Auth.AdminUsername || s.cfg.Auth.AdminPasswordHash == "" {
		writeError(w, r, orcherr.New(orcherr.KindAuthentication, "invalid credentials"))
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.Auth.AdminPasswordHash), []byte(req.Password)); err != nil {
		writeError(w, r, orcherr.New(orcherr.KindAuthentication, "invalid credentials"))
		return
	}

	now := time.Now()
	expiresAt := now.Add(s.cfg.Auth.TokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Subject: req.Username,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: expiresAt.Unix(),
			Issuer:    "ciorch",
		},
	})
	signed, err := token.SignedString([]byte(s.cfg.JWTSigningKey))
	if err != nil {
		writeError(w, r, orcherr.Internal(err, "sign token"))
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: signed, ExpiresAt: expiresAt})
}

// bearerAuth rejects any request without a valid, unexpired bearer token
// signed with cfg.JWTSigningKey. It is mounted on every /api route except
// POST /api/auth/login; /health, /ready and /webhook are mounted outside
// the API router and never pass through it.
func bearerAuth(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, r, orcherr.New(orcherr.KindAuthentication, "missing bearer token"))
				return
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			var c claims
			_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, orcherr.New(orcherr.KindAuthentication, "unexpected signing method")
				}
				return []byte(cfg.JWTSigningKey), nil
			})
			if err != nil {
				writeError(w, r, orcherr.New(orcherr.KindAuthentication, "invalid or expired token"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyToken, raw)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tokenFromContext returns the validated bearer token carried on a
// request, for use as the rate limiter's per-caller key.
func tokenFromContext(r *http.Request) string {
	if v, ok := r.Context().Value(ctxKeyToken).(string); ok {
		return v
	}
	return ""
}
