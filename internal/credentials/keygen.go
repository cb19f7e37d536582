package credentials

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/NielsdaWheelz/labforge/internal/errors"
	"github.com/NielsdaWheelz/labforge/internal/exec"
)

// DefaultKeyBits is the RSA modulus size used for lab signing keys.
const DefaultKeyBits = 2048

// KeyGenerator produces a PEM-encoded RSA private key.
type KeyGenerator interface {
	GenerateKey(ctx context.Context) (string, error)
	// KeyBits is the modulus size the generator promises.
	KeyBits() int
}

// NativeKeyGenerator generates keys in-process with crypto/rsa.
type NativeKeyGenerator struct {
	Bits int
	Rand io.Reader
}

// GenerateKey returns a PKCS#1 "RSA PRIVATE KEY" PEM block.
func (g NativeKeyGenerator) GenerateKey(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r := g.Rand
	if r == nil {
		r = rand.Reader
	}
	key, err := rsa.GenerateKey(r, g.KeyBits())
	if err != nil {
		return "", errors.Wrap(errors.EKeygenFailed, "failed to generate rsa key", err)
	}
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	return string(pem.EncodeToMemory(block)), nil
}

// KeyBits returns the configured size or DefaultKeyBits.
func (g NativeKeyGenerator) KeyBits() int {
	if g.Bits <= 0 {
		return DefaultKeyBits
	}
	return g.Bits
}

// CommandKeyGenerator shells out to "openssl genrsa" and reads the key from stdout.
type CommandKeyGenerator struct {
	Runner  exec.CommandRunner
	Command string
	Bits    int
	Timeout time.Duration
}

// GenerateKey runs `<command> genrsa 2048` (PEM on stdout).
func (g CommandKeyGenerator) GenerateKey(ctx context.Context) (string, error) {
	command := g.Command
	if command == "" {
		command = "openssl"
	}
	args := []string{"genrsa", strconv.Itoa(g.KeyBits())}
	res, err := g.Runner.Run(ctx, command, args, exec.RunOpts{Timeout: g.Timeout})
	if err != nil {
		return "", errors.WrapWithDetails(errors.EKeygenFailed, "failed to run key generator", err,
			map[string]string{"command": command + " " + strings.Join(args, " ")})
	}
	if res.ExitCode != 0 {
		return "", errors.NewWithDetails(errors.EKeygenFailed,
			fmt.Sprintf("key generator exited with code %d", res.ExitCode),
			map[string]string{
				"command": command + " " + strings.Join(args, " "),
				"stderr":  strings.TrimSpace(res.Stderr),
			})
	}
	return res.Stdout, nil
}

// KeyBits returns the configured size or DefaultKeyBits.
func (g CommandKeyGenerator) KeyBits() int {
	if g.Bits <= 0 {
		return DefaultKeyBits
	}
	return g.Bits
}

// ValidatePrivateKey checks that pemText holds exactly one RSA private key
// (PKCS#1 or PKCS#8) of the given modulus size. bits <= 0 skips the size check.
func ValidatePrivateKey(pemText string, bits int) error {
	block, rest := pem.Decode([]byte(pemText))
	if block == nil {
		return errors.New(errors.EKeygenFailed, "key generator output is not PEM")
	}
	if strings.TrimSpace(string(rest)) != "" {
		return errors.New(errors.EKeygenFailed, "key generator output has trailing data after the PEM block")
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return errors.Wrap(errors.EKeygenFailed, "invalid PKCS#1 private key", err)
		}
		key = k
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return errors.Wrap(errors.EKeygenFailed, "invalid PKCS#8 private key", err)
		}
		rsaKey, ok := k.(*rsa.PrivateKey)
		if !ok {
			return errors.New(errors.EKeygenFailed, fmt.Sprintf("expected an RSA key, got %T", k))
		}
		key = rsaKey
	default:
		return errors.New(errors.EKeygenFailed, fmt.Sprintf("unexpected PEM block type %q", block.Type))
	}

	if bits > 0 && key.N.BitLen() != bits {
		return errors.New(errors.EKeygenFailed, fmt.Sprintf("key has %d bits, want %d", key.N.BitLen(), bits))
	}
	return nil
}
