package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gridplay/tictactoe-backend/internal/apperror"
)

// Secret classes. A room token signed with the room secret can never be
// replayed as a user token because the MACs are keyed independently.
const (
	ClassRoom = "room"
	ClassUser = "user"
)

const delimiter = "."

// Authority issues and verifies stateless signed tokens of the form
// "<subject>.<base64-mac>". Validity is fully determined by recomputing
// the MAC; there is no expiry and no revocation list.
type Authority struct {
	secrets map[string][]byte
}

func NewAuthority(roomSecret, userSecret string) *Authority {
	return &Authority{
		secrets: map[string][]byte{
			ClassRoom: []byte(roomSecret),
			ClassUser: []byte(userSecret),
		},
	}
}

// Issue - appends a MAC of subject to the subject itself.
func (that *Authority) Issue(subject, class string) (string, error) {
	secret, ok := that.secrets[class]
	if !ok {
		return "", fmt.Errorf("%w: unknown secret class %q", apperror.ErrInvalidToken, class)
	}

	return subject + delimiter + sign(subject, secret), nil
}

// Verify - recomputes the MAC over the subject part and compares it to the
// carried signature. Fails closed on any malformed token.
func (that *Authority) Verify(tokenString, class string) bool {
	secret, ok := that.secrets[class]
	if !ok {
		return false
	}

	parts := strings.Split(tokenString, delimiter)
	if len(parts) != 2 {
		return false
	}

	expected := sign(parts[0], secret)

	return hmac.Equal([]byte(parts[1]), []byte(expected))
}

// Subject - returns the unsigned subject part of a token.
func Subject(tokenString string) string {
	subject, _, _ := strings.Cut(tokenString, delimiter)
	return subject
}

func sign(subject string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(subject))

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
