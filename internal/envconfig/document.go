// Package envconfig renders the development runtime config files for the
// server and client roles of a lab instance.
package envconfig

import (
	"bytes"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/NielsdaWheelz/labforge/internal/core"
	"github.com/NielsdaWheelz/labforge/internal/credentials"
)

// Options holds the network endpoints of a development deployment.
type Options struct {
	Host         string
	ServerPort   int
	ClientPort   int
	DatabasePort int
	RedisPort    int
}

// DefaultOptions returns the local development endpoints.
func DefaultOptions() Options {
	return Options{
		Host:         "127.0.0.1",
		ServerPort:   3000,
		ClientPort:   3001,
		DatabasePort: 3306,
		RedisPort:    6379,
	}
}

func (o Options) serverURL() string {
	return fmt.Sprintf("http://%s:%d", o.Host, o.ServerPort)
}

func (o Options) clientURL() string {
	return fmt.Sprintf("http://%s:%d", o.Host, o.ClientPort)
}

// ServerDocument returns the server role's config.yaml document.
func ServerDocument(creds *credentials.Set, opts Options) *yaml.Node {
	return document(
		pair("server", mapping(
			pair("host", str(opts.Host)),
			pair("port", num(opts.ServerPort)),
		)),
		pair("database", databaseSection(creds, core.RoleServer, opts)),
		pair("cookie", mapping(
			pair("secret", str(creds.CookieSecret(core.RoleServer))),
			pair("path", str("/")),
			pair("secure", boolean(false)),
			pair("domain", str(opts.Host)),
		)),
		pair("redis", redisSection(opts)),
		pair("oauth", mapping(
			pair("issuer", str(opts.serverURL())),
			pair("registration_secret", str(creds.RegistrationSecret)),
			pair("allowed_clients", sequence(str(creds.ClientID))),
			pair("encryption_key", str(creds.ServerEncryptionKey)),
			pair("private_key", literal(credentials.UnindentPEM(creds.PrivateKey, credentials.PEMIndent))),
		)),
	)
}

// ClientDocument returns the client role's config.yaml document.
func ClientDocument(creds *credentials.Set, opts Options) *yaml.Node {
	server := opts.serverURL()
	client := opts.clientURL()
	return document(
		pair("server", mapping(
			pair("host", str(opts.Host)),
			pair("port", num(opts.ClientPort)),
		)),
		pair("database", databaseSection(creds, core.RoleClient, opts)),
		pair("client", mapping(
			pair("id", str(creds.ClientID)),
			pair("name", str(core.RoleClient.Hyphenated(creds.Tag))),
			pair("secret", str(creds.ClientSecret)),
			pair("scopes", sequence(str("read:profile"))),
			pair("uri", str(client)),
			pair("logo_uri", str(client+"/static/img/logo.png")),
			pair("redirect_uri", str(client+"/callback")),
		)),
		pair("authorization_server", mapping(
			pair("issuer", str(server)),
			pair("authorize_uri", str(server+"/oauth/authorize")),
			pair("token_uri", str(server+"/oauth/token")),
			pair("jwk_uri", str(server+"/.well-known/jwks.json")),
			pair("revocation_uri", str(server+"/oauth/revoke")),
			pair("register_uri", str(server+"/oauth/register")),
			pair("registration_secret", str(creds.RegistrationSecret)),
		)),
		pair("resource_server", mapping(
			pair("base_url", str(server)),
		)),
		pair("cookie", mapping(
			pair("secret", str(creds.CookieSecret(core.RoleClient))),
			pair("secure", boolean(false)),
			pair("path", str("/")),
			pair("domain", str(opts.Host)),
		)),
		pair("redis", redisSection(opts)),
	)
}

// Document returns the config document for role.
func Document(role core.Role, creds *credentials.Set, opts Options) *yaml.Node {
	if role == core.RoleServer {
		return ServerDocument(creds, opts)
	}
	return ClientDocument(creds, opts)
}

func databaseSection(creds *credentials.Set, role core.Role, opts Options) *yaml.Node {
	return mapping(
		pair("host", str(opts.Host)),
		pair("port", num(opts.DatabasePort)),
		pair("name", str(creds.DatabaseUser(role))),
		pair("username", str(creds.DatabaseUser(role))),
		pair("password", str(creds.DatabasePassword(role))),
	)
}

func redisSection(opts Options) *yaml.Node {
	return mapping(
		pair("host", str(opts.Host)),
		pair("port", num(opts.RedisPort)),
		pair("database", num(0)),
	)
}

// Encode serializes doc with a blank line between top-level sections.
func Encode(doc *yaml.Node) ([]byte, error) {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config document must be a single mapping")
	}
	top := doc.Content[0]

	var out bytes.Buffer
	for i := 0; i+1 < len(top.Content); i += 2 {
		section := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{top.Content[i], top.Content[i+1]}}
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(section); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		if i > 0 {
			out.WriteByte('\n')
		}
		out.Write(buf.Bytes())
	}
	return out.Bytes(), nil
}

type kv struct {
	key, value *yaml.Node
}

func pair(key string, value *yaml.Node) kv {
	return kv{key: &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, value: value}
}

func document(pairs ...kv) *yaml.Node {
	return &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{mapping(pairs...)}}
}

func mapping(pairs ...kv) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, p := range pairs {
		n.Content = append(n.Content, p.key, p.value)
	}
	return n
}

func sequence(items ...*yaml.Node) *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Content: items}
}

func str(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Style: yaml.SingleQuotedStyle, Value: v}
}

func literal(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Style: yaml.LiteralStyle, Value: v}
}

func num(n int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(n)}
}

func boolean(b bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(b)}
}
