package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signatures.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func sqliteDSN(t *testing.T) string {
	t.Helper()
	return "file:" + filepath.Join(t.TempDir(), "signatures.db") + "?_foreign_keys=on"
}

func TestRulesCheck(t *testing.T) {
	out, err := execute(t, "rules", "check", "amount > 1000.0")
	if err != nil {
		t.Fatalf("expected condition to compile: %v", err)
	}
	if !strings.Contains(out, "condition compiles") {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := execute(t, "rules", "check", "amount >"); err == nil {
		t.Fatalf("expected broken condition to be rejected")
	}
	if _, err := execute(t, "rules", "check", "ip_country == 'ES'"); err == nil {
		t.Fatalf("expected undeclared variable to be rejected")
	}
}

func TestConfigPrint_LayersFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
service_name: signatures-test
routing:
  default_channel: VOICE
challenge:
  code_length: 8
`)
	out, err := execute(t, "config", "print", "--config", path)
	if err != nil {
		t.Fatalf("config print: %v", err)
	}
	for _, want := range []string{
		"service_name: signatures-test",
		"default_channel: VOICE",
		"code_length: 8",
		"error_rate_threshold: 0.8",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestConfigValidate_RejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, `
degraded:
  error_rate_threshold: 1.5
`)
	if _, err := execute(t, "config", "validate", "--config", path); err == nil {
		t.Fatalf("expected out of range threshold to be rejected")
	}
	if _, err := execute(t, "config", "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file to be reported")
	}
}

func TestYAMLFileLoader_EmptyPathYieldsNoOverrides(t *testing.T) {
	raw, err := yamlFileLoader{}.LoadRaw(context.Background())
	if err != nil || len(raw) != 0 {
		t.Fatalf("expected empty raw config, got %#v %v", raw, err)
	}
}

func TestProvidersAddAndList(t *testing.T) {
	dsn := sqliteDSN(t)
	out, err := execute(t, "providers", "add",
		"--db-dsn", dsn,
		"--type", "sandbox-sms",
		"--channel", "sms",
		"--priority", "1",
		"--timeout", "3s",
	)
	if err != nil {
		t.Fatalf("providers add: %v", err)
	}
	if !strings.Contains(out, "saved provider sandbox-sms") {
		t.Fatalf("unexpected add output %q", out)
	}

	if _, err := execute(t, "providers", "add", "--db-dsn", dsn, "--type", "sandbox-fax", "--channel", "FAX"); err == nil {
		t.Fatalf("expected unknown channel to be rejected")
	}

	out, err = execute(t, "providers", "list", "--db-dsn", dsn)
	if err != nil {
		t.Fatalf("providers list: %v", err)
	}
	if !strings.Contains(out, "sandbox-sms") || !strings.Contains(out, "SMS") || !strings.Contains(out, (3*time.Second).String()) {
		t.Fatalf("expected stored provider in list:\n%s", out)
	}
}

func TestRulesSaveAndEval(t *testing.T) {
	dsn := sqliteDSN(t)
	if _, err := execute(t, "rules", "save",
		"--db-dsn", dsn,
		"--name", "high-value",
		"--condition", "amount > 1000.0",
		"--channel", "voice",
		"--priority", "1",
		"--actor", "ops",
	); err != nil {
		t.Fatalf("rules save: %v", err)
	}

	out, err := execute(t, "rules", "eval", "--db-dsn", dsn, "--amount", "1500", "--currency", "EUR")
	if err != nil {
		t.Fatalf("rules eval: %v", err)
	}
	if !strings.Contains(out, "channel VOICE via rule high-value") {
		t.Fatalf("expected high value rule to match, got %q", out)
	}

	out, err = execute(t, "rules", "eval", "--db-dsn", dsn, "--amount", "20", "--currency", "EUR")
	if err != nil {
		t.Fatalf("rules eval low amount: %v", err)
	}
	if !strings.Contains(out, "channel SMS (default") {
		t.Fatalf("expected default channel for low amount, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	if _, err := parseLevel("verbose"); err == nil {
		t.Fatalf("expected unknown level to be rejected")
	}
	if _, err := newLogger(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatalf("expected unknown format to be rejected")
	}
	buf := &bytes.Buffer{}
	logger, err := newLogger(buf, "debug", "json")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Debug("engine ready", "providers", 2)
	if !strings.Contains(buf.String(), `"msg":"engine ready"`) || !strings.Contains(buf.String(), `"providers":2`) {
		t.Fatalf("expected json log line, got %q", buf.String())
	}
}
