package binance

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
)

// signer produces the signature query parameter for signed endpoints.
// Binance accepts Ed25519 over the raw payload or RSA PKCS#1 v1.5 over its
// SHA-256 digest, both base64-encoded.
type signer struct {
	keyType string
	ed      ed25519.PrivateKey
	rsaKey  *rsa.PrivateKey
}

// loadSigner reads a PEM private key from disk.
func loadSigner(keyType, path string) (*signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}

	switch keyType {
	case "ed25519":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse ed25519 key: %w", err)
		}
		edKey, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key in %s is not an Ed25519 private key", path)
		}
		return &signer{keyType: keyType, ed: edKey}, nil

	case "rsa":
		// PKCS#8 first, PKCS#1 as the legacy fallback.
		if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
			rsaKey, ok := key.(*rsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("key in %s is not an RSA private key", path)
			}
			return &signer{keyType: keyType, rsaKey: rsaKey}, nil
		}
		rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse rsa key: %w", err)
		}
		return &signer{keyType: keyType, rsaKey: rsaKey}, nil

	default:
		return nil, fmt.Errorf("unsupported key type %q", keyType)
	}
}

// Sign signs the encoded query string.
func (s *signer) Sign(payload string) (string, error) {
	switch s.keyType {
	case "ed25519":
		sig := ed25519.Sign(s.ed, []byte(payload))
		return base64.StdEncoding.EncodeToString(sig), nil

	case "rsa":
		digest := sha256.Sum256([]byte(payload))
		sig, err := rsa.SignPKCS1v15(rand.Reader, s.rsaKey, crypto.SHA256, digest[:])
		if err != nil {
			return "", fmt.Errorf("rsa sign: %w", err)
		}
		return base64.StdEncoding.EncodeToString(sig), nil

	default:
		return "", fmt.Errorf("unsupported key type %q", s.keyType)
	}
}
