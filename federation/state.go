package federation

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/inkwell/internal/util"
)

const (
	// StateTTL bounds how long a user may take at the provider.
	StateTTL = 10 * time.Minute

	stateIssuer = "inkwell"
	nonceSize   = 32
)

// ErrInvalidState is returned when the state parameter is missing, forged,
// expired, issued for another provider, or not bound to the caller's nonce.
var ErrInvalidState = errors.New("invalid oauth state")

type stateClaims struct {
	Provider  string `json:"prv"`
	NonceHash string `json:"nh"`
	jwt.RegisteredClaims
}

// StateSigner issues and checks the OAuth state parameter as an HS256 JWT.
// The JWT carries a hash of a nonce that the browser holds in a cookie, so a
// state value is only usable by the client it was issued to.
type StateSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewStateSigner returns a signer using key, which must be at least 32 bytes.
func NewStateSigner(key []byte) (*StateSigner, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("state key must be at least 32 bytes, got %d", len(key))
	}
	return &StateSigner{key: util.CopyBytes(key), ttl: StateTTL, now: time.Now}, nil
}

// Sign returns a state value for provider and the nonce the caller must
// store client-side.
func (s *StateSigner) Sign(provider string) (state, nonce string, err error) {
	nonce, err = util.RandomHex(nonceSize)
	if err != nil {
		return "", "", err
	}
	now := s.now()
	claims := stateClaims{
		Provider:  provider,
		NonceHash: hashNonce(nonce),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	state, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", "", fmt.Errorf("signing state: %w", err)
	}
	return state, nonce, nil
}

// Verify checks state against provider and the nonce presented by the client.
func (s *StateSigner) Verify(state, provider, nonce string) error {
	if state == "" || nonce == "" {
		return ErrInvalidState
	}
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims.Provider != provider {
		return fmt.Errorf("%w: issued for %q", ErrInvalidState, claims.Provider)
	}
	if subtle.ConstantTimeCompare([]byte(claims.NonceHash), []byte(hashNonce(nonce))) != 1 {
		return fmt.Errorf("%w: nonce mismatch", ErrInvalidState)
	}
	return nil
}

func hashNonce(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:])
}
