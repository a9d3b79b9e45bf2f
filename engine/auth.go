package engine

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v4"
)

// JWTSecretLength is the required size of the engine JWT secret.
const JWTSecretLength = 32

// jwtIssuedAtWindow is how far a token's iat may drift from local time.
const jwtIssuedAtWindow = 60 * time.Second

var (
	ErrJWTSecretLength = errors.New("jwt secret must be 32 bytes")
	ErrMissingToken    = errors.New("missing bearer token")
	ErrStaleToken      = errors.New("token issued-at outside allowed window")
)

// LoadJWTSecret reads a hex encoded 32-byte secret from path.
func LoadJWTSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jwt secret: %w", err)
	}
	secret := common.FromHex(strings.TrimSpace(string(data)))
	if len(secret) != JWTSecretLength {
		return nil, fmt.Errorf("%w: got %d", ErrJWTSecretLength, len(secret))
	}
	return secret, nil
}

// jwtAuthenticator checks HS256 bearer tokens on engine requests.
type jwtAuthenticator struct {
	secret []byte
	now    func() time.Time
}

func (a *jwtAuthenticator) verify(r *http.Request) error {
	auth := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || raw == "" {
		return ErrMissingToken
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	iat, ok := claims["iat"].(float64)
	if !ok {
		return fmt.Errorf("%w: missing iat", ErrStaleToken)
	}
	drift := a.now().Sub(time.Unix(int64(iat), 0))
	if drift > jwtIssuedAtWindow || drift < -jwtIssuedAtWindow {
		return fmt.Errorf("%w: drift %v", ErrStaleToken, drift)
	}
	return nil
}

// wrap rejects unauthenticated requests with 401.
func (a *jwtAuthenticator) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.verify(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewJWTToken signs an HS256 token with the given issued-at time, as a
// consensus client would.
func NewJWTToken(secret []byte, iat time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iat": iat.Unix()})
	return token.SignedString(secret)
}
