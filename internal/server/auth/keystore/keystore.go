// Package keystore loads the RSA key pair used to sign tokens.
package keystore

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/tenantguard/internal/server/auth"
)

const (
	PrivateKeyFile = "private.pem"
	PublicKeyFile  = "public.pem"
)

type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// Source yields the signing key pair. It is consulted once at startup.
type Source interface {
	Load(ctx context.Context) (KeyPair, error)
}

func parsePair(privPEM, pubPEM []byte) (KeyPair, error) {
	priv, err := auth.ParsePrivateKeyPEM(privPEM)
	if err != nil {
		return KeyPair{}, fmt.Errorf("private key: %w", err)
	}
	pub, err := auth.ParsePublicKeyPEM(pubPEM)
	if err != nil {
		return KeyPair{}, fmt.Errorf("public key: %w", err)
	}
	if !priv.PublicKey.Equal(pub) {
		return KeyPair{}, errors.New("public key does not match private key")
	}
	return KeyPair{Private: priv, Public: pub}, nil
}

type FileSource struct {
	PrivatePath string
	PublicPath  string
}

func NewFileSource(privatePath, publicPath string) *FileSource {
	return &FileSource{PrivatePath: privatePath, PublicPath: publicPath}
}

func (s *FileSource) Load(_ context.Context) (KeyPair, error) {
	privPEM, err := os.ReadFile(s.PrivatePath)
	if err != nil {
		return KeyPair{}, fmt.Errorf("read private key: %w", err)
	}
	pubPEM, err := os.ReadFile(s.PublicPath)
	if err != nil {
		return KeyPair{}, fmt.Errorf("read public key: %w", err)
	}
	return parsePair(privPEM, pubPEM)
}

// WriteFiles stores key as PEM files under dir, returning their paths.
func WriteFiles(dir string, key *rsa.PrivateKey) (string, string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", err
	}
	privPEM, err := auth.EncodePrivateKeyPEM(key)
	if err != nil {
		return "", "", err
	}
	pubPEM, err := auth.EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return "", "", err
	}

	privPath := filepath.Join(dir, PrivateKeyFile)
	pubPath := filepath.Join(dir, PublicKeyFile)
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return "", "", err
	}
	return privPath, pubPath, nil
}
