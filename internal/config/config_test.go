package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadLedgerDefaults(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("ENVIRONMENT", "")
	cfg := LoadLedger()
	if cfg.Addr != ":8084" || cfg.MaxConns != 10 || cfg.TokenSkew != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.AnyOfUnlock {
		t.Fatalf("any-of unlock must be off by default")
	}
	if cfg.Environment != "dev" {
		t.Fatalf("environment = %q, want dev", cfg.Environment)
	}
}

func TestFileThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
ledger:
  addr: ":9000"
  maxConns: 4
  anyOfUnlock: true
oracle:
  scope: from-file
  burst: 7
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(FileEnv, path)
	t.Setenv("LEDGER_ADDR", ":9100")

	ledger := LoadLedger()
	if ledger.Addr != ":9100" {
		t.Fatalf("env should win over file, addr = %q", ledger.Addr)
	}
	if ledger.MaxConns != 4 || !ledger.AnyOfUnlock {
		t.Fatalf("file values not applied: %+v", ledger)
	}

	oracle := LoadOracle()
	if oracle.Scope != "from-file" || oracle.Burst != 7 {
		t.Fatalf("oracle section not applied: %+v", oracle)
	}
	if oracle.RatePerSecond != 5 {
		t.Fatalf("default lost for unset key: %v", oracle.RatePerSecond)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("LEDGER_MAX_CONNS", "lots")
	t.Setenv("LEDGER_TOKEN_SKEW", "-5s")
	t.Setenv("SEALEDMSG_SESSION_DAYS", "0")

	if cfg := LoadLedger(); cfg.MaxConns != 10 || cfg.TokenSkew != 30*time.Second {
		t.Fatalf("invalid values not replaced: %+v", cfg)
	}
	if cfg := LoadClient(); cfg.SessionDays != 7 {
		t.Fatalf("session days = %d, want 7", cfg.SessionDays)
	}
}

func TestClientGatewaysDefaultToRegistry(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("SEALEDMSG_REGISTRY_URL", "http://registry:8086/")
	t.Setenv("SEALEDMSG_GATEWAYS", "")
	cfg := LoadClient()
	if len(cfg.Gateways) != 1 || cfg.Gateways[0] != "http://registry:8086/blob" {
		t.Fatalf("gateways = %v", cfg.Gateways)
	}

	t.Setenv("SEALEDMSG_GATEWAYS", "http://a/blob, ,http://b/blob")
	cfg = LoadClient()
	if len(cfg.Gateways) != 2 || cfg.Gateways[1] != "http://b/blob" {
		t.Fatalf("gateways = %v", cfg.Gateways)
	}
}
