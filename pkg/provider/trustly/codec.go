package trustly

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"sort"
	"strings"
)

// SerializeStruct produces the provider's canonical string form of a request
// data structure: map keys in ascending order, each key name followed by the
// serialized value when the value is non-empty. Anything that is not a map
// falls through to plain string conversion, including slices. The slice
// behavior is part of the wire contract and must not be changed, fragile as
// it is.
func SerializeStruct(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return fmt.Sprintf("%v", v)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		if nonEmpty(m[k]) {
			b.WriteString(SerializeStruct(m[k]))
		}
	}
	return b.String()
}

func nonEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

// Signer signs canonical payloads with the merchant's RSA private key.
// The digest is SHA-1: fixed by the provider protocol, not negotiable.
type Signer struct {
	key *rsa.PrivateKey
}

func NewSigner(pemData []byte) (*Signer, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in private key")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &Signer{key: key}, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not an RSA key")
	}
	return &Signer{key: key}, nil
}

// Sign returns the base64 PKCS#1 v1.5 signature over the SHA-1 digest of the
// payload.
func (s *Signer) Sign(payload string) (string, error) {
	digest := sha1.Sum([]byte(payload))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA1, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verifier checks signatures on inbound notifications with the provider's
// public key.
type Verifier struct {
	key *rsa.PublicKey
}

func NewVerifier(pemData []byte) (*Verifier, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in public key")
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return &Verifier{key: key}, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not an RSA key")
	}
	return &Verifier{key: key}, nil
}

// Verify reports whether the base64 signature matches the payload. A failed
// verification is an authentication result, not an error: malformed base64
// and mismatched signatures both return false.
func (v *Verifier) Verify(payload, signature string) bool {
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	digest := sha1.Sum([]byte(payload))
	return rsa.VerifyPKCS1v15(v.key, crypto.SHA1, digest[:], raw) == nil
}
