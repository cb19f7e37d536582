package credentials

import (
	"context"

	"github.com/NielsdaWheelz/labforge/internal/core"
	"github.com/NielsdaWheelz/labforge/internal/errors"
)

// Env names the deployment context a credential set belongs to.
type Env string

const (
	EnvDevelopment Env = "development"
	EnvProduction  Env = "production"
)

// Secret sizes: hex tokens are 32 random bytes, passwords are requested
// with length 32 (and come out 33 characters long, see NewPassword).
const (
	TokenBytes     = 32
	PasswordLength = 32
)

// Set is every secret minted for one instance in one environment.
type Set struct {
	Env Env
	Tag core.Tag

	RegistrationSecret string
	ClientID           string

	ClientSecret           string
	ClientCookieSecret     string
	ClientDatabasePassword string

	ServerCookieSecret     string
	ServerEncryptionKey    string
	ServerDatabasePassword string

	// PrivateKey is already indented by PEMIndent for YAML embedding.
	PrivateKey string
}

// NewSet mints a full credential set. An empty clientID mints a new one, so
// the first set of a run creates the id and later sets reuse it.
// Any failure aborts the whole set.
func (m *Mint) NewSet(ctx context.Context, tag core.Tag, env Env, clientID string) (*Set, error) {
	s := &Set{Env: env, Tag: tag, ClientID: clientID}

	if s.ClientID == "" {
		id, err := m.NewUUID()
		if err != nil {
			return nil, errors.Wrap(errors.ERandomFailed, "failed to mint client id", err)
		}
		s.ClientID = id
	}

	tokens := []*string{&s.RegistrationSecret, &s.ClientCookieSecret, &s.ServerCookieSecret, &s.ServerEncryptionKey}
	for _, dst := range tokens {
		v, err := m.NewHexToken(TokenBytes)
		if err != nil {
			return nil, errors.Wrap(errors.ERandomFailed, "failed to mint secret token", err)
		}
		*dst = v
	}

	passwords := []*string{&s.ClientSecret, &s.ClientDatabasePassword, &s.ServerDatabasePassword}
	for _, dst := range passwords {
		v, err := m.NewPassword(PasswordLength)
		if err != nil {
			return nil, errors.Wrap(errors.ERandomFailed, "failed to mint password", err)
		}
		*dst = v
	}

	key, err := m.NewPrivateKey(ctx)
	if err != nil {
		if errors.GetCode(err) != "" {
			return nil, err
		}
		return nil, errors.Wrap(errors.EKeygenFailed, "failed to generate private key", err)
	}
	s.PrivateKey = key

	return s, nil
}

// secrets returns every secret field by name. ClientID is not a secret.
func (s *Set) secrets() map[string]string {
	return map[string]string{
		"registration_secret":      s.RegistrationSecret,
		"client_secret":            s.ClientSecret,
		"client_cookie_secret":     s.ClientCookieSecret,
		"client_database_password": s.ClientDatabasePassword,
		"server_cookie_secret":     s.ServerCookieSecret,
		"server_encryption_key":    s.ServerEncryptionKey,
		"server_database_password": s.ServerDatabasePassword,
		"private_key":              s.PrivateKey,
	}
}

// SharedSecrets returns the names of secret fields whose value also appears
// anywhere in other. Two independently minted sets return nil.
func (s *Set) SharedSecrets(other *Set) []string {
	theirs := make(map[string]bool)
	for _, v := range other.secrets() {
		theirs[v] = true
	}
	mine := s.secrets()
	var shared []string
	for _, name := range secretNames {
		if v := mine[name]; v != "" && theirs[v] {
			shared = append(shared, name)
		}
	}
	return shared
}

var secretNames = []string{
	"registration_secret",
	"client_secret",
	"client_cookie_secret",
	"client_database_password",
	"server_cookie_secret",
	"server_encryption_key",
	"server_database_password",
	"private_key",
}

// DatabaseUser returns the database user/name for role, e.g. "server07".
func (s *Set) DatabaseUser(role core.Role) string {
	return role.Compact(s.Tag)
}

// DatabasePassword returns the password minted for role's database user.
func (s *Set) DatabasePassword(role core.Role) string {
	if role == core.RoleServer {
		return s.ServerDatabasePassword
	}
	return s.ClientDatabasePassword
}

// CookieSecret returns the cookie signing secret for role.
func (s *Set) CookieSecret(role core.Role) string {
	if role == core.RoleServer {
		return s.ServerCookieSecret
	}
	return s.ClientCookieSecret
}
