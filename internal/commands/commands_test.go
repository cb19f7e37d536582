package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/NielsdaWheelz/labforge/internal/config"
	"github.com/NielsdaWheelz/labforge/internal/credentials"
	"github.com/NielsdaWheelz/labforge/internal/errors"
	labexec "github.com/NielsdaWheelz/labforge/internal/exec"
	"github.com/NielsdaWheelz/labforge/internal/fs"
	"github.com/NielsdaWheelz/labforge/internal/render"
)

// keyRunner implements exec.CommandRunner, answering `openssl genrsa` with fresh keys.
type keyRunner struct {
	calls    []string
	exitCode int
}

func (k *keyRunner) Run(ctx context.Context, name string, args []string, _ labexec.RunOpts) (labexec.CmdResult, error) {
	k.calls = append(k.calls, name+" "+strings.Join(args, " "))
	if k.exitCode != 0 {
		return labexec.CmdResult{Stderr: "genrsa: bad", ExitCode: k.exitCode}, nil
	}
	key, err := credentials.NativeKeyGenerator{Bits: 2048}.GenerateKey(ctx)
	if err != nil {
		return labexec.CmdResult{}, err
	}
	return labexec.CmdResult{Stdout: key}, nil
}

// setupLabRoot creates a minimal lab root with lab00 and the shared artifacts.
func setupLabRoot(t *testing.T, extra map[string]string) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"docker/caddy/Caddyfile":  "(common) {\n    tls internal\n}\n",
		"docker-compose.yaml":     "services:\n  db:\n    image: mariadb\n\nsecrets:\n  db_password:\n    file: ./pw.txt\n",
		"docker/db/init.dev.sql":  "-- lab00\n",
		"docker/db/init.prod.sql": "-- lab00\n",
	}
	for _, role := range []string{"server", "client"} {
		files["lab00/"+role+"/internal/constants/constants.go"] = "package constants\n\nconst LabNumber = \"00\"\n"
		files["lab00/"+role+"/main.go"] = "package main\n\nconst name = \"" + role + "-00\"\n"
	}
	for k, v := range extra {
		files[k] = v
	}
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

func outputValue(t *testing.T, out, key string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, key+": "); ok {
			return v
		}
	}
	t.Fatalf("output has no %q line:\n%s", key, out)
	return ""
}

func TestNew_Output(t *testing.T) {
	root := setupLabRoot(t, nil)
	var stdout, stderr bytes.Buffer

	err := New(context.Background(), &keyRunner{}, fs.NewRealFS(), NewOpts{Number: "7", Root: root}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("New failed: %v\nstderr: %s", err, stderr.String())
	}
	out := stdout.String()

	if got := outputValue(t, out, "lab"); got != "lab07" {
		t.Errorf("lab = %q", got)
	}
	if got := outputValue(t, out, "base"); got != "lab00" {
		t.Errorf("base = %q", got)
	}
	if got := outputValue(t, out, "lab_dir"); got != filepath.Join(root, "lab07") {
		t.Errorf("lab_dir = %q", got)
	}
	if got := outputValue(t, out, "dry_run"); got != "false" {
		t.Errorf("dry_run = %q", got)
	}
	for _, name := range []string{"proxy", "compose", "sql_prod", "sql_dev"} {
		outputValue(t, out, "artifact_"+name)
	}
	if got := outputValue(t, out, "configs"); !strings.Contains(got, filepath.Join("lab07", "server", "config.yaml")) {
		t.Errorf("configs = %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "lab07", "client", "config.yaml")); err != nil {
		t.Errorf("client config missing: %v", err)
	}
	if strings.Contains(stdout.String(), "level=") {
		t.Error("log records written to stdout")
	}
}

func TestNew_DryRun(t *testing.T) {
	root := setupLabRoot(t, nil)
	var stdout, stderr bytes.Buffer

	err := New(context.Background(), &keyRunner{}, fs.NewRealFS(), NewOpts{Number: "12", Root: root, DryRun: true}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := outputValue(t, stdout.String(), "dry_run"); got != "true" {
		t.Errorf("dry_run = %q", got)
	}
	if strings.Contains(stdout.String(), "files_rewritten") {
		t.Error("dry run reports rewrite counts")
	}
	if _, err := os.Stat(filepath.Join(root, "lab12")); !os.IsNotExist(err) {
		t.Error("dry run created lab12")
	}
}

func TestNew_OpenSSLBackend(t *testing.T) {
	root := setupLabRoot(t, map[string]string{
		config.FileName: "keygen:\n  backend: openssl\n  command: /usr/local/bin/openssl\n",
	})
	runner := &keyRunner{}
	var stdout, stderr bytes.Buffer

	if err := New(context.Background(), runner, fs.NewRealFS(), NewOpts{Number: "3", Root: root}, &stdout, &stderr); err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("runner calls = %v, want one per environment", runner.calls)
	}
	for _, c := range runner.calls {
		if c != "/usr/local/bin/openssl genrsa 2048" {
			t.Errorf("call = %q", c)
		}
	}
}

func TestNew_OpenSSLFailure(t *testing.T) {
	root := setupLabRoot(t, map[string]string{
		config.FileName: "keygen:\n  backend: openssl\n",
	})
	var stdout, stderr bytes.Buffer

	err := New(context.Background(), &keyRunner{exitCode: 1}, fs.NewRealFS(), NewOpts{Number: "3", Root: root}, &stdout, &stderr)
	if errors.GetCode(err) != errors.EKeygenFailed {
		t.Fatalf("code = %q, want %q", errors.GetCode(err), errors.EKeygenFailed)
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty on failure", stdout.String())
	}
	if _, err := os.Stat(filepath.Join(root, "lab03")); !os.IsNotExist(err) {
		t.Error("lab03 created despite keygen failure")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	root := setupLabRoot(t, map[string]string{
		config.FileName: "keygen:\n  backend: gpg\n",
	})
	var stdout, stderr bytes.Buffer

	err := New(context.Background(), &keyRunner{}, fs.NewRealFS(), NewOpts{Number: "3", Root: root}, &stdout, &stderr)
	if errors.GetCode(err) != errors.EInvalidConfig {
		t.Fatalf("code = %q, want %q", errors.GetCode(err), errors.EInvalidConfig)
	}
}

func TestKeyGenerator(t *testing.T) {
	if _, ok := KeyGenerator(config.Keygen{Backend: config.BackendNative, Bits: 4096}, nil).(credentials.NativeKeyGenerator); !ok {
		t.Error("native backend not selected")
	}
	g, ok := KeyGenerator(config.Keygen{Backend: config.BackendOpenSSL, Bits: 3072, Command: "openssl"}, &keyRunner{}).(credentials.CommandKeyGenerator)
	if !ok {
		t.Fatal("openssl backend not selected")
	}
	if g.KeyBits() != 3072 || g.Command != "openssl" {
		t.Errorf("generator = %+v", g)
	}
}

func TestCheck(t *testing.T) {
	configGo := "package config\n\nfunc New() {\n\tcfg.SetDefault(\"server.port\", 3000)\n}\n"
	tests := []struct {
		name     string
		usage    string
		wantCode errors.Code
		findings string
	}{
		{"clean", `cfg.GetInt("server.port")`, "", "0"},
		{"missing default", `cfg.GetString("server.hostname")`, errors.ECheckFailed, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := setupLabRoot(t, map[string]string{
				"lab00/server/internal/config/config.go": configGo,
				"lab00/server/cmd/serve.go":              fmt.Sprintf("package cmd\n\nvar p = %s\n", tt.usage),
			})
			var stdout bytes.Buffer

			err := Check(fs.NewRealFS(), CheckOpts{Root: root}, &stdout)
			if errors.GetCode(err) != tt.wantCode {
				t.Fatalf("code = %q, want %q (err=%v)", errors.GetCode(err), tt.wantCode, err)
			}
			out := stdout.String()
			if got := outputValue(t, out, "findings"); got != tt.findings {
				t.Errorf("findings = %q, want %q", got, tt.findings)
			}
			if got := outputValue(t, out, "components_checked"); got != "1" {
				t.Errorf("components_checked = %q", got)
			}
			if got := outputValue(t, out, "skipped"); got != "lab00/client" {
				t.Errorf("skipped = %q", got)
			}
			if tt.wantCode != "" && !strings.Contains(out, "missing_default: lab00/server/cmd/serve.go: server.hostname") {
				t.Errorf("output missing finding:\n%s", out)
			}
		})
	}
}

func TestNew_JSON(t *testing.T) {
	root := setupLabRoot(t, nil)
	var stdout, stderr bytes.Buffer

	err := New(context.Background(), &keyRunner{}, fs.NewRealFS(), NewOpts{Number: "9", Root: root, JSON: true}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	var env render.NewJSONEnvelope
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		t.Fatalf("stdout is not json: %v\n%s", err, stdout.String())
	}
	if env.Data.Lab != "lab09" || env.Data.Rewrite == nil || len(env.Data.Artifacts) != 4 {
		t.Errorf("data = %+v", env.Data)
	}
}
