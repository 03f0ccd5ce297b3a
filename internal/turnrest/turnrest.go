// Package turnrest mints coturn-compatible ephemeral TURN credentials so
// game clients behind hard NATs can relay their peer connections without a
// static TURN password ever reaching a client.
//
// See:
// - https://github.com/coturn/coturn/wiki/turnserver
// - https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest
//
// Credential scheme:
//
//	username   = <unix_expiry>:<prefix>:<user_id_or_random>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const DefaultPrefix = "fr"

type Generator struct {
	sharedSecret []byte
	ttl          time.Duration
	prefix       string
	now          func() time.Time
}

func NewGenerator(sharedSecret string, ttl time.Duration, prefix string) (*Generator, error) {
	if sharedSecret == "" {
		return nil, errors.New("turnrest: shared secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("turnrest: ttl must be positive")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if strings.ContainsRune(prefix, ':') {
		return nil, errors.New("turnrest: prefix must not contain ':'")
	}
	return &Generator{
		sharedSecret: []byte(sharedSecret),
		ttl:          ttl,
		prefix:       prefix,
		now:          time.Now,
	}, nil
}

type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

// ForUser mints credentials tagged with the requesting user's id, so TURN
// server logs can be correlated with game accounts. An id containing ':'
// (or an empty one) falls back to a random tag.
func (g *Generator) ForUser(userID string) (Credentials, error) {
	tag := userID
	if tag == "" || strings.ContainsRune(tag, ':') {
		var err error
		if tag, err = randomTag(); err != nil {
			return Credentials{}, err
		}
	}
	expiry := g.now().UTC().Add(g.ttl).Unix()
	username := fmt.Sprintf("%d:%s:%s", expiry, g.prefix, tag)
	mac := hmac.New(sha1.New, g.sharedSecret)
	mac.Write([]byte(username))
	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiryUnix: expiry,
	}, nil
}

func randomTag() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
