package scaffold

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NielsdaWheelz/labforge/internal/config"
	"github.com/NielsdaWheelz/labforge/internal/credentials"
	"github.com/NielsdaWheelz/labforge/internal/envconfig"
	"github.com/NielsdaWheelz/labforge/internal/errors"
	"github.com/NielsdaWheelz/labforge/internal/fs"
	"github.com/NielsdaWheelz/labforge/internal/lock"
	"github.com/NielsdaWheelz/labforge/internal/logging"
	"github.com/NielsdaWheelz/labforge/internal/rewrite"
)

const testKeyBits = 1024

const caddyfile = `(common) {
    tls internal
}

server-00.oauth.labs {
    import common
    reverse_proxy server-00:3000
}
`

const composeManifest = `services:
  caddy:
    image: docker.io/library/caddy:2
  db:
    image: docker.io/library/mariadb:11
  valkey:
    image: docker.io/valkey/valkey:8

secrets:
  db_root_password:
    file: ./docker/db/root_password.txt
`

const sqlInit = `-- lab00
CREATE USER 'server00'@'%' IDENTIFIED BY 'x';
`

// writeRoot lays out a lab root with a lab00 template and the shared artifacts.
func writeRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"docker/caddy/Caddyfile":  caddyfile,
		"docker-compose.yaml":     composeManifest,
		"docker/db/init.dev.sql":  sqlInit,
		"docker/db/init.prod.sql": sqlInit,
	}
	for _, role := range []string{"server", "client"} {
		files["lab00/"+role+"/internal/constants/constants.go"] = "package constants\n\nconst LabNumber = \"00\"\n"
		files["lab00/"+role+"/go.mod"] = "module github.com/x/oauth-labs/lab00/" + role + "\n"
		files["lab00/"+role+"/main.go"] = fmt.Sprintf("package main\n\nvar names = []string{%q, %q, %q, %q}\n",
			role+"-00", role+"00", "lab00", "http://server-00.oauth.labs:3000")
		files["lab00/"+role+"/config.yaml"] = "database:\n  name: '" + role + "00'\n"
	}
	files["lab00/client/internal/templates/index.html"] = "<h1>client-00</h1>\n"

	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

type stubLocker struct {
	err      error
	locked   int
	unlocked int
}

func (s *stubLocker) Lock(cmd string) (func() error, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.locked++
	return func() error { s.unlocked++; return nil }, nil
}

type failingKeys struct{}

func (failingKeys) GenerateKey(ctx context.Context) (string, error) {
	return "", errors.New(errors.EKeygenFailed, "openssl exited 1")
}
func (failingKeys) KeyBits() int { return testKeyBits }

func newGenerator(t *testing.T, root string) (*Generator, *stubLocker) {
	t.Helper()
	cfg, err := config.Load(fs.NewRealFS(), root, "")
	if err != nil {
		t.Fatalf("config.Load failed: %v", err)
	}
	fsys := fs.NewRealFS()
	locker := &stubLocker{}
	return &Generator{
		FS:       fsys,
		Mint:     credentials.NewMint(credentials.NativeKeyGenerator{Bits: testKeyBits}),
		Rewriter: &rewrite.Rewriter{FS: fsys},
		Emitter:  &envconfig.Emitter{FS: fsys},
		Locker:   locker,
		Logger:   logging.Discard(),
		Config:   cfg,
	}, locker
}

func sharedPaths(root string) []string {
	return []string{
		filepath.Join(root, "docker", "caddy", "Caddyfile"),
		filepath.Join(root, "docker-compose.yaml"),
		filepath.Join(root, "docker", "db", "init.dev.sql"),
		filepath.Join(root, "docker", "db", "init.prod.sql"),
	}
}

func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, p := range sharedPaths(root) {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		out[p] = string(data)
	}
	return out
}

func assertSnapshot(t *testing.T, root string, want map[string]string) {
	t.Helper()
	got := snapshot(t, root)
	for p := range want {
		if got[p] != want[p] {
			t.Errorf("%s modified", filepath.Base(p))
		}
	}
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestGenerate_Scenario00To07(t *testing.T) {
	root := writeRoot(t)
	g, locker := newGenerator(t, root)

	res, err := g.Generate(context.Background(), Request{Number: "7"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Tag != "07" || res.Base != "00" || res.LabDir != filepath.Join(root, "lab07") {
		t.Errorf("result = %+v", res)
	}
	if locker.locked != 1 || locker.unlocked != 1 {
		t.Errorf("lock/unlock = %d/%d, want 1/1", locker.locked, locker.unlocked)
	}

	lab := filepath.Join(root, "lab07")
	baseForms := rewrite.Rules("00", "07")
	for _, role := range []string{"server", "client"} {
		decl := read(t, filepath.Join(lab, role, "internal", "constants", "constants.go"))
		if !strings.Contains(decl, `"07"`) || strings.Contains(decl, `"00"`) {
			t.Errorf("%s declaration = %q", role, decl)
		}
		main := read(t, filepath.Join(lab, role, "main.go"))
		if rewrite.Contains(main, baseForms) {
			t.Errorf("%s main.go still holds base identifiers: %s", role, main)
		}
		if !strings.Contains(main, role+"-07") || !strings.Contains(main, "server-07.oauth.labs") {
			t.Errorf("%s main.go not rewritten: %s", role, main)
		}
	}
	if !strings.Contains(read(t, filepath.Join(lab, "client", "internal", "templates", "index.html")), "client-00") {
		t.Error("file outside the include set was rewritten")
	}
	// the template is untouched
	if !strings.Contains(read(t, filepath.Join(root, "lab00", "server", "main.go")), "server-00") {
		t.Error("base lab modified")
	}

	var server struct {
		Database struct {
			Password string `yaml:"password"`
		} `yaml:"database"`
		OAuth struct {
			AllowedClients []string `yaml:"allowed_clients"`
			PrivateKey     string   `yaml:"private_key"`
		} `yaml:"oauth"`
	}
	var client struct {
		Client struct {
			ID string `yaml:"id"`
		} `yaml:"client"`
	}
	if err := yaml.Unmarshal([]byte(read(t, filepath.Join(lab, "server", "config.yaml"))), &server); err != nil {
		t.Fatal(err)
	}
	if err := yaml.Unmarshal([]byte(read(t, filepath.Join(lab, "client", "config.yaml"))), &client); err != nil {
		t.Fatal(err)
	}
	if len(server.OAuth.AllowedClients) != 1 || client.Client.ID != server.OAuth.AllowedClients[0] {
		t.Errorf("client id %q vs allowed %v", client.Client.ID, server.OAuth.AllowedClients)
	}
	if client.Client.ID != res.ClientID {
		t.Errorf("client id %q, result %q", client.Client.ID, res.ClientID)
	}
	if err := credentials.ValidatePrivateKey(server.OAuth.PrivateKey, testKeyBits); err != nil {
		t.Errorf("server private key invalid: %v", err)
	}

	caddy := read(t, filepath.Join(root, "docker", "caddy", "Caddyfile"))
	for _, host := range []string{"server-07.oauth.labs {", "client-07.oauth.labs {"} {
		if strings.Count(caddy, host) != 1 {
			t.Errorf("Caddyfile missing %s", host)
		}
	}

	compose := read(t, filepath.Join(root, "docker-compose.yaml"))
	if n := len(regexp.MustCompile(`(?m)^secrets:`).FindAllString(compose, -1)); n != 1 {
		t.Errorf("secrets anchors = %d", n)
	}
	iValkey, iServer, iAnchor := strings.Index(compose, "  valkey:"), strings.Index(compose, "  server-07:"), strings.Index(compose, "\nsecrets:")
	if !(iValkey < iServer && iServer < iAnchor) {
		t.Errorf("compose block misplaced: valkey=%d server-07=%d secrets=%d", iValkey, iServer, iAnchor)
	}

	// the dev database password lands in init.dev.sql and the dev config only
	dev := read(t, filepath.Join(root, "docker", "db", "init.dev.sql"))
	prod := read(t, filepath.Join(root, "docker", "db", "init.prod.sql"))
	devPW := "IDENTIFIED BY '" + server.Database.Password + "'"
	if !strings.Contains(dev, devPW) {
		t.Error("init.dev.sql does not carry the dev server password")
	}
	if strings.Contains(prod, devPW) {
		t.Error("init.prod.sql carries the dev server password")
	}
	if !strings.Contains(prod, "-- lab07\n") || !strings.Contains(dev, "-- lab07\n") {
		t.Error("sql scripts missing lab07 block")
	}

	if len(res.Artifacts) != 4 || len(res.Configs) != 2 {
		t.Errorf("artifacts=%v configs=%v", res.Artifacts, res.Configs)
	}
}

func TestGenerate_SecondRunFailsWithoutTouchingArtifacts(t *testing.T) {
	root := writeRoot(t)
	g, _ := newGenerator(t, root)

	if _, err := g.Generate(context.Background(), Request{Number: "07"}); err != nil {
		t.Fatalf("first Generate failed: %v", err)
	}
	before := snapshot(t, root)

	_, err := g.Generate(context.Background(), Request{Number: "07"})
	if errors.GetCode(err) != errors.ELabExists {
		t.Fatalf("code = %q, want %q", errors.GetCode(err), errors.ELabExists)
	}
	assertSnapshot(t, root, before)
}

func TestGenerate_ManyRunsAppendDistinctBlocks(t *testing.T) {
	root := writeRoot(t)
	g, _ := newGenerator(t, root)

	numbers := []string{"1", "2", "10"}
	for _, n := range numbers {
		if _, err := g.Generate(context.Background(), Request{Number: n}); err != nil {
			t.Fatalf("Generate %s failed: %v", n, err)
		}
	}

	passwordRe := regexp.MustCompile(`IDENTIFIED BY '([^']*)'`)
	for _, path := range sharedPaths(root)[2:] {
		content := read(t, path)
		for _, tag := range []string{"01", "02", "10"} {
			if n := strings.Count(content, "\n-- lab"+tag+"\n"); n != 1 {
				t.Errorf("%s: lab%s blocks = %d, want 1", filepath.Base(path), tag, n)
			}
		}
		seen := make(map[string]bool)
		for _, m := range passwordRe.FindAllStringSubmatch(content, -1) {
			if m[1] == "x" {
				continue
			}
			if seen[m[1]] {
				t.Errorf("%s: password reused", filepath.Base(path))
			}
			seen[m[1]] = true
		}
		if len(seen) != 2*len(numbers) {
			t.Errorf("%s: %d distinct passwords, want %d", filepath.Base(path), len(seen), 2*len(numbers))
		}
	}

	// lab10 was cloned from lab00, never from lab01
	main := read(t, filepath.Join(root, "lab10", "server", "main.go"))
	if !strings.Contains(main, "server-10") || strings.Contains(main, "server-01") {
		t.Errorf("lab10 main.go = %s", main)
	}
}

func TestGenerate_Preconditions(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		code errors.Code
	}{
		{"number out of range", Request{Number: "100"}, errors.EInvalidTag},
		{"number not numeric", Request{Number: "x7"}, errors.EInvalidTag},
		{"target exists", Request{Number: "0"}, errors.ELabExists},
		{"base misnamed", Request{Number: "7", Base: "lab0"}, errors.EInvalidBase},
		{"base path", Request{Number: "7", Base: "../lab00"}, errors.EInvalidBase},
		{"base missing", Request{Number: "7", Base: "lab05"}, errors.EBaseNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := writeRoot(t)
			g, _ := newGenerator(t, root)
			before := snapshot(t, root)

			_, err := g.Generate(context.Background(), tt.req)
			if errors.GetCode(err) != tt.code {
				t.Fatalf("code = %q, want %q (err=%v)", errors.GetCode(err), tt.code, err)
			}
			assertSnapshot(t, root, before)
			if _, err := os.Stat(filepath.Join(root, "lab07")); !os.IsNotExist(err) {
				t.Error("lab07 created despite failed precondition")
			}
		})
	}
}

func TestGenerate_BaseFromOtherInstance(t *testing.T) {
	root := writeRoot(t)
	g, _ := newGenerator(t, root)
	if _, err := g.Generate(context.Background(), Request{Number: "3"}); err != nil {
		t.Fatal(err)
	}
	res, err := g.Generate(context.Background(), Request{Number: "4", Base: "lab03/"})
	if err != nil {
		t.Fatalf("Generate from lab03 failed: %v", err)
	}
	if res.Base != "03" {
		t.Errorf("Base = %q", res.Base)
	}
	decl := read(t, filepath.Join(root, "lab04", "client", "internal", "constants", "constants.go"))
	if !strings.Contains(decl, `"04"`) {
		t.Errorf("declaration = %q", decl)
	}
}

func TestGenerate_AnchorMissingTouchesNothing(t *testing.T) {
	root := writeRoot(t)
	compose := filepath.Join(root, "docker-compose.yaml")
	if err := os.WriteFile(compose, []byte("services:\n  db:\n    image: x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	before := snapshot(t, root)
	g, _ := newGenerator(t, root)

	_, err := g.Generate(context.Background(), Request{Number: "7"})
	if errors.GetCode(err) != errors.EAnchorMissing {
		t.Fatalf("code = %q, want %q", errors.GetCode(err), errors.EAnchorMissing)
	}
	assertSnapshot(t, root, before)
	if _, err := os.Stat(filepath.Join(root, "lab07")); !os.IsNotExist(err) {
		t.Error("lab07 cloned despite staging failure")
	}
}

func TestGenerate_KeygenFailureTouchesNothing(t *testing.T) {
	root := writeRoot(t)
	before := snapshot(t, root)
	g, _ := newGenerator(t, root)
	g.Mint = credentials.NewMint(failingKeys{})

	_, err := g.Generate(context.Background(), Request{Number: "7"})
	if errors.GetCode(err) != errors.EKeygenFailed {
		t.Fatalf("code = %q, want %q", errors.GetCode(err), errors.EKeygenFailed)
	}
	assertSnapshot(t, root, before)
	if _, err := os.Stat(filepath.Join(root, "lab07")); !os.IsNotExist(err) {
		t.Error("lab07 cloned despite keygen failure")
	}
}

func TestGenerate_DryRun(t *testing.T) {
	root := writeRoot(t)
	before := snapshot(t, root)
	g, _ := newGenerator(t, root)

	res, err := g.Generate(context.Background(), Request{Number: "7", DryRun: true})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !res.DryRun || len(res.Artifacts) != 4 || len(res.Configs) != 2 {
		t.Errorf("result = %+v", res)
	}
	for _, a := range res.Artifacts {
		if a.BytesAdded <= 0 {
			t.Errorf("%s: BytesAdded = %d", a.Name, a.BytesAdded)
		}
	}
	assertSnapshot(t, root, before)
	if _, err := os.Stat(filepath.Join(root, "lab07")); !os.IsNotExist(err) {
		t.Error("dry run created lab07")
	}
}

func TestGenerate_Locked(t *testing.T) {
	root := writeRoot(t)
	g, _ := newGenerator(t, root)
	g.Locker = &stubLocker{err: &lock.ErrLocked{Root: root, Path: filepath.Join(root, lock.FileName)}}

	_, err := g.Generate(context.Background(), Request{Number: "7"})
	if errors.GetCode(err) != errors.ELocked {
		t.Fatalf("code = %q, want %q", errors.GetCode(err), errors.ELocked)
	}
}

func TestGenerate_RealLockIsReleased(t *testing.T) {
	root := writeRoot(t)
	g, _ := newGenerator(t, root)
	l := lock.NewScaffoldLock(root)
	l.StaleAfter = time.Hour
	g.Locker = l

	if _, err := g.Generate(context.Background(), Request{Number: "7"}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Error("lock file left behind")
	}
}

func TestGenerate_RewriteFailureReportsPartialLab(t *testing.T) {
	root := writeRoot(t)
	if err := os.Remove(filepath.Join(root, "lab00", "client", "internal", "constants", "constants.go")); err != nil {
		t.Fatal(err)
	}
	g, _ := newGenerator(t, root)

	_, err := g.Generate(context.Background(), Request{Number: "7"})
	if errors.GetCode(err) != errors.ERewriteFailed {
		t.Fatalf("code = %q, want %q", errors.GetCode(err), errors.ERewriteFailed)
	}
	le, _ := errors.AsLabError(err)
	if le.Details["lab_dir"] != filepath.Join(root, "lab07") {
		t.Errorf("details = %v", le.Details)
	}
}
