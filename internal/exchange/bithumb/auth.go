package bithumb

import (
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+=*$`)

// param is one request parameter. Order matters for POST bodies, whose
// query hash must follow the JSON key order.
type param struct {
	key   string
	value string
}

// joinParams renders params as k=v pairs joined by '&'. Values are market
// codes, uuids and decimal amounts, which need no escaping.
func joinParams(ps []param, sorted bool) string {
	if len(ps) == 0 {
		return ""
	}
	if sorted {
		ps = append([]param(nil), ps...)
		sort.SliceStable(ps, func(i, j int) bool { return ps[i].key < ps[j].key })
	}
	var b strings.Builder
	for i, p := range ps {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(p.value)
	}
	return b.String()
}

// queryHash is the lowercase hex SHA-512 of a rendered query string.
func queryHash(qs string) string {
	sum := sha512.Sum512([]byte(qs))
	return hex.EncodeToString(sum[:])
}

// Authenticator issues the per-request HS256 bearer tokens required by the
// private API.
type Authenticator struct {
	accessKey string
	secret    []byte

	now   func() time.Time
	nonce func() string
}

// NewAuthenticator builds an Authenticator. Keys are usually issued as
// base64 text, which is decoded before signing unless raw is set.
func NewAuthenticator(accessKey, secretKey string, raw bool) *Authenticator {
	return &Authenticator{
		accessKey: accessKey,
		secret:    secretBytes(secretKey, raw),
		now:       time.Now,
		nonce:     func() string { return uuid.NewString() },
	}
}

func secretBytes(secretKey string, raw bool) []byte {
	if raw {
		return []byte(secretKey)
	}
	trimmed := strings.TrimSpace(secretKey)
	if len(trimmed) >= 32 && base64Pattern.MatchString(trimmed) {
		if decoded, err := base64.StdEncoding.DecodeString(trimmed); err == nil && len(decoded) > 0 {
			return decoded
		}
	}
	return []byte(secretKey)
}

// Token signs a bearer token. qs is the rendered parameter string of the
// request, empty when the request carries no parameters.
func (a *Authenticator) Token(qs string) (string, error) {
	claims := jwt.MapClaims{
		"access_key": a.accessKey,
		"nonce":      a.nonce(),
		"timestamp":  a.now().UnixMilli(),
	}
	if qs != "" {
		claims["query_hash"] = queryHash(qs)
		claims["query_hash_alg"] = "SHA512"
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("bithumb: sign token: %w", err)
	}
	return signed, nil
}
