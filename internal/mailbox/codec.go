package mailbox

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	stateIssuer = "propsrc/mailbox"
	// StateTTL bounds how long an issued authorization URL stays usable.
	StateTTL = time.Hour
)

// stateClaims is the signed form of Metadata carried in the OAuth state parameter.
type stateClaims struct {
	Metadata
	jwt.RegisteredClaims
}

// StateCodec turns Metadata into the opaque OAuth state parameter and back.
// States are HS256 tokens; tampered, expired or foreign states decode as empty.
type StateCodec struct {
	secret []byte
	now    func() time.Time
}

// NewStateCodec builds a codec. An empty secret is replaced by a random
// process-local key, so states only round trip within this process.
func NewStateCodec(secret string) *StateCodec {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	return &StateCodec{secret: key, now: time.Now}
}

// Encode signs meta as a compact JWT.
func (c *StateCodec) Encode(meta Metadata) (string, error) {
	now := c.now()
	claims := &stateClaims{
		Metadata: meta,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(StateTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return signed, nil
}

// Decode parses state. Missing, corrupt, expired or badly signed state yields
// empty Metadata and is not an error.
func (c *StateCodec) Decode(state string) Metadata {
	state = strings.TrimSpace(state)
	if state == "" {
		return Metadata{}
	}
	claims, err := c.parse(state)
	if err != nil {
		return Metadata{}
	}
	meta := claims.Metadata
	if _, err := ParsePurpose(string(meta.Purpose)); err != nil {
		meta.Purpose = ""
	}
	if _, err := ParseProvider(string(meta.Provider)); err != nil {
		meta.Provider = ""
	}
	return meta
}

func (c *StateCodec) parse(state string) (*stateClaims, error) {
	token, err := jwt.ParseWithClaims(state, &stateClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*stateClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid state")
	}
	return claims, nil
}
