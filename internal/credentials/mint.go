// Package credentials mints the secrets and key material for a new lab instance.
package credentials

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// PEMIndent is the margin added to every PEM line after the first so the key
// can sit under a YAML "private_key: |" entry nested one level deep.
const PEMIndent = 4

// Mint produces random secrets. Rand defaults to crypto/rand.Reader and
// Keys to an in-process RSA generator.
type Mint struct {
	Rand io.Reader
	Keys KeyGenerator
}

// NewMint returns a Mint backed by crypto/rand and the given key generator.
func NewMint(keys KeyGenerator) *Mint {
	return &Mint{Rand: rand.Reader, Keys: keys}
}

func (m *Mint) reader() io.Reader {
	if m.Rand == nil {
		return rand.Reader
	}
	return m.Rand
}

// NewPassword returns length+1 characters drawn uniformly from [a-zA-Z0-9].
// The extra character is part of the generated-secret contract: configs
// produced by earlier tooling carry 33-character passwords for length 32.
func (m *Mint) NewPassword(length int) (string, error) {
	if length < 0 {
		return "", fmt.Errorf("invalid password length %d", length)
	}
	max := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(length + 1)
	for i := 0; i <= length; i++ {
		n, err := rand.Int(m.reader(), max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// NewHexToken returns the hex encoding of n random bytes.
func (m *Mint) NewHexToken(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("invalid token size %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(m.reader(), buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NewUUID returns a random (version 4) UUID string.
func (m *Mint) NewUUID() (string, error) {
	id, err := uuid.NewRandomFromReader(m.reader())
	if err != nil {
		return "", fmt.Errorf("failed to generate uuid: %w", err)
	}
	return id.String(), nil
}

// NewPrivateKey asks the key generator for an RSA private key, validates it,
// and returns it indented for embedding as a YAML block scalar.
func (m *Mint) NewPrivateKey(ctx context.Context) (string, error) {
	if m.Keys == nil {
		return "", fmt.Errorf("no key generator configured")
	}
	raw, err := m.Keys.GenerateKey(ctx)
	if err != nil {
		return "", err
	}
	if err := ValidatePrivateKey(raw, m.Keys.KeyBits()); err != nil {
		return "", err
	}
	return IndentPEM(raw, PEMIndent), nil
}

// IndentPEM prefixes every line after the first with indent spaces.
// Each output line ends with a newline, including the last.
func IndentPEM(pemText string, indent int) string {
	lines := strings.Split(strings.TrimRight(pemText, "\r\n"), "\n")
	margin := strings.Repeat(" ", indent)
	var b strings.Builder
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		if i != 0 {
			b.WriteString(margin)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// UnindentPEM reverses IndentPEM.
func UnindentPEM(indented string, indent int) string {
	margin := strings.Repeat(" ", indent)
	lines := strings.Split(indented, "\n")
	for i := range lines {
		lines[i] = strings.TrimPrefix(lines[i], margin)
	}
	return strings.Join(lines, "\n")
}
