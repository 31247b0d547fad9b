package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cea-hpc/lhsm-coordinator/config"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lhsm-coordinator.conf")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsThenFile(t *testing.T) {
	path := writeConf(t, "host myhost\nport 9000\n# a comment\n\nclient_grace_ms 5000\n")
	cfg, err := config.Load(path, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "myhost" || cfg.Port != "9000" || cfg.ClientGraceMS != 5000 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.KVHost != "localhost" {
		t.Fatalf("expected default kv_host preserved, got %q", cfg.KVHost)
	}
}

func TestMissingFileNotFatalByDefault(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.conf"), false)
	if err != nil {
		t.Fatalf("expected no error for missing optional config, got %v", err)
	}
	if cfg.Host != "lhsm-coordinator" {
		t.Fatalf("expected default host, got %q", cfg.Host)
	}
}

func TestMissingFileFatalWhenExplicit(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.conf"), true)
	if err == nil {
		t.Fatalf("expected error for explicitly-requested missing config")
	}
}

func TestHostMappingDirectiveAccumulates(t *testing.T) {
	path := writeConf(t, "host_mapping ssd=h1,h2\nhost_mapping hdd=h3\n")
	cfg, err := config.Load(path, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.HostMapRules) != 2 {
		t.Fatalf("expected 2 rules, got %+v", cfg.HostMapRules)
	}
	if cfg.HostMapRules[0].Tag != "ssd" || len(cfg.HostMapRules[0].Hosts) != 2 {
		t.Fatalf("unexpected first rule: %+v", cfg.HostMapRules[0])
	}
}

func TestArchiveIDSizeSuffix(t *testing.T) {
	path := writeConf(t, "archive_id 2\narchive_id 1k\n")
	cfg, err := config.Load(path, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.ArchiveIDs) != 2 || cfg.ArchiveIDs[0] != 2 || cfg.ArchiveIDs[1] != 1024 {
		t.Fatalf("unexpected archive ids: %v", cfg.ArchiveIDs)
	}
}

func TestUnknownKeyIsSkippedNotFatal(t *testing.T) {
	path := writeConf(t, "bogus_key 1\nhost realhost\n")
	cfg, err := config.Load(path, true)
	if err != nil {
		t.Fatalf("unknown key should not be fatal: %v", err)
	}
	if cfg.Host != "realhost" {
		t.Fatalf("expected host to still be applied, got %q", cfg.Host)
	}
}

func TestExpansionDirectives(t *testing.T) {
	path := writeConf(t, "object_id_hint objid=\ngroup_hash true\nmirror_compress 1\nlocator s3\nmetrics_addr 127.0.0.1:9100\njwt_secret s3cr3t\n")
	cfg, err := config.Load(path, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ObjectIDHint != "objid=" || !cfg.GroupHashEnabled || !cfg.MirrorCompress ||
		cfg.Locator != "s3" || cfg.MetricsAddr != "127.0.0.1:9100" || cfg.JWTSecret != "s3cr3t" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConf(t, "host filehost\n")
	t.Setenv("LHSM_COORD_HOST", "envhost")
	cfg, err := config.Load(path, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "envhost" {
		t.Fatalf("expected env override to win, got %q", cfg.Host)
	}
}
