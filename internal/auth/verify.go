package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ehrlich-b/deskbridge/internal/keys"
)

var (
	ErrNoKey            = errors.New("no valid session key")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrUnsupportedKey   = errors.New("unsupported public key")
)

const maxCachedKeys = 8

// Verifier checks detached signatures over canonical message payloads
// against a session's PEM public key. The algorithm follows the key type:
// RSA uses RS256, ECDSA uses ES256 (raw r||s), Ed25519 uses EdDSA.
type Verifier struct {
	mu    sync.Mutex
	cache map[string]parsedKey
}

type parsedKey struct {
	method jwt.SigningMethod
	key    any
}

func NewVerifier() *Verifier {
	return &Verifier{cache: make(map[string]parsedKey)}
}

// Verify returns nil if signature is a valid signature of payload under
// key.PublicKey. Every failure wraps ErrInvalidSignature or ErrUnsupportedKey.
func (v *Verifier) Verify(payload []byte, signature string, key keys.KeyData) error {
	pk, err := v.parse(key.PublicKey)
	if err != nil {
		return err
	}
	sig, err := decodeSignature(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if err := pk.method.Verify(string(payload), sig, pk.key); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func (v *Verifier) parse(publicKey string) (parsedKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if pk, ok := v.cache[publicKey]; ok {
		return pk, nil
	}

	pk, err := parsePublicKey(publicKey)
	if err != nil {
		return parsedKey{}, err
	}
	if len(v.cache) >= maxCachedKeys {
		clear(v.cache)
	}
	v.cache[publicKey] = pk
	return pk, nil
}

func parsePublicKey(publicKey string) (parsedKey, error) {
	pemBytes := []byte(toPEM(publicKey))

	if k, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes); err == nil {
		return parsedKey{method: jwt.SigningMethodRS256, key: k}, nil
	}
	if k, err := jwt.ParseECPublicKeyFromPEM(pemBytes); err == nil {
		if k.Curve.Params().BitSize != 256 {
			return parsedKey{}, fmt.Errorf("%w: ecdsa curve %s", ErrUnsupportedKey, k.Curve.Params().Name)
		}
		return parsedKey{method: jwt.SigningMethodES256, key: k}, nil
	}
	k, err := jwt.ParseEdPublicKeyFromPEM(pemBytes)
	if err != nil {
		return parsedKey{}, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	if edKey, ok := k.(ed25519.PublicKey); ok {
		return parsedKey{method: jwt.SigningMethodEdDSA, key: edKey}, nil
	}
	return parsedKey{}, fmt.Errorf("%w: %T", ErrUnsupportedKey, k)
}

// toPEM accepts either PEM text or bare base64 DER (SubjectPublicKeyInfo).
func toPEM(publicKey string) string {
	s := strings.TrimSpace(publicKey)
	if strings.HasPrefix(s, "-----BEGIN") {
		return s
	}
	var b strings.Builder
	b.WriteString("-----BEGIN PUBLIC KEY-----\n")
	for len(s) > 64 {
		b.WriteString(s[:64])
		b.WriteByte('\n')
		s = s[64:]
	}
	b.WriteString(s)
	b.WriteString("\n-----END PUBLIC KEY-----\n")
	return b.String()
}

func decodeSignature(sig string) ([]byte, error) {
	if sig == "" {
		return nil, errors.New("empty signature")
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(sig); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("signature is not base64")
}
