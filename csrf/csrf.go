// Package csrf implements the double-submit CSRF token codec.
//
// A token is "hmac.randomValue" where hmac is the hex HMAC-SHA256, under a
// server secret, of the length-prefixed session id and random value. Tokens
// are never stored; verification recomputes the HMAC for the session the
// request arrived on, so a token minted for one session is useless in any
// other.
package csrf

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/inkwell/internal/util"
)

// MinSecretSize is the minimum accepted secret length in bytes.
const MinSecretSize = 32

// RandomValueSize is the number of random bytes in each token.
const RandomValueSize = 64

var (
	// ErrHeaderMalformed means the header is missing or is not exactly two
	// non-empty dot-separated parts.
	ErrHeaderMalformed = errors.New("csrf header malformed")
	// ErrTokenMismatch means the token was well formed but its HMAC does not
	// match the session.
	ErrTokenMismatch = errors.New("csrf token mismatch")
	// ErrSecretTooShort is returned by NewCodec for secrets under MinSecretSize.
	ErrSecretTooShort = fmt.Errorf("csrf secret must be at least %d bytes", MinSecretSize)
)

// Codec issues and verifies tokens. It is safe for concurrent use.
type Codec struct {
	secret *memguard.Enclave
}

// NewCodec returns a Codec keyed by secret. The caller's slice is left intact.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < MinSecretSize {
		return nil, ErrSecretTooShort
	}
	return &Codec{secret: memguard.NewEnclave(util.CopyBytes(secret))}, nil
}

// Issue returns a fresh token bound to sessionID.
func (c *Codec) Issue(sessionID string) (string, error) {
	rv, err := util.RandomHex(RandomValueSize)
	if err != nil {
		return "", fmt.Errorf("generating csrf random value: %w", err)
	}
	mac, err := c.sign(sessionID, rv)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(mac) + "." + rv, nil
}

// Verify checks headerToken against sessionID. It returns ErrHeaderMalformed
// or ErrTokenMismatch on failure.
func (c *Codec) Verify(sessionID, headerToken string) error {
	parts := strings.Split(headerToken, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ErrHeaderMalformed
	}
	given, err := hex.DecodeString(parts[0])
	if err != nil {
		return ErrTokenMismatch
	}
	want, err := c.sign(sessionID, parts[1])
	if err != nil {
		return err
	}
	if !hmac.Equal(given, want) {
		return ErrTokenMismatch
	}
	return nil
}

func (c *Codec) sign(sessionID, randomValue string) ([]byte, error) {
	buf, err := c.secret.Open()
	if err != nil {
		return nil, fmt.Errorf("opening csrf secret: %w", err)
	}
	defer buf.Destroy()

	mac := hmac.New(sha256.New, buf.Bytes())
	mac.Write([]byte(message(sessionID, randomValue)))
	return mac.Sum(nil), nil
}

func message(sessionID, randomValue string) string {
	return strconv.Itoa(len(sessionID)) + "!" + sessionID + "!" +
		strconv.Itoa(len(randomValue)) + "!" + randomValue
}
