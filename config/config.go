// Package config loads the coordinator's configuration from an optional
// "key value" text file (one directive per line, '#' comments, blank
// lines skipped) with environment-variable overrides applied afterward,
// mirroring common/config.c's getenv_str/getenv_u32/getenv_int precedence
// and copytool/config.c's line-oriented parser. Unknown keys are logged
// and skipped rather than treated as fatal, matching the original's
// "skipping unknown key" behavior.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cea-hpc/lhsm-coordinator/clog"
	"github.com/cea-hpc/lhsm-coordinator/hostmap"
)

// Config holds every tunable named in the coordinator's config surface:
// listen address, KV-store mirror address, grace window, batching, the
// server-side archive-id filter, the reporting and state directories,
// host-mapping rules, and log verbosity.
type Config struct {
	Host string
	Port string

	KVHost string
	KVPort int

	ClientGraceMS int

	BatchSlots       int
	BatchSliceIdleMS int
	BatchSliceMaxMS  int

	ArchiveIDs []uint32

	ReportingDir  string
	ReportingHint string
	ObjectIDHint  string

	StateDirPrefix string

	HostMapRules     []hostmap.Rule
	GroupHashEnabled bool

	MirrorCompress bool

	// Locator selects which backend-locate() implementation RESTORE
	// scheduling consults: "", "s3", "azureblob", "gcs", or "hdfs". Empty
	// means no locator is configured (host mapping / group hash only).
	Locator string

	// LocatorBucket names the S3/GCS bucket the chosen locator queries.
	LocatorBucket string
	// LocatorURL is the Azure Blob container URL for the azureblob locator.
	LocatorURL string
	// LocatorNamenode is the HDFS namenode address for the hdfs locator.
	LocatorNamenode string

	MetricsAddr string
	JWTSecret   string

	Verbose clog.Level
}

// Default returns the configuration the original ships as built-in
// defaults before any file or environment override is applied.
func Default() *Config {
	return &Config{
		Host:          "lhsm-coordinator",
		Port:          "5123",
		KVHost:        "localhost",
		KVPort:        6379,
		ClientGraceMS: 10000,
		Verbose:       clog.LevelInfo,
	}
}

// Load builds a Config starting from Default, overlaying path's
// directives (if the file exists -- a missing path is only an error if
// it was explicitly requested via the env var below), then overlaying
// environment variables. failOnMissing mirrors config_init's
// fail_enoent: true when path was given explicitly on the command line
// or via LHSM_COORD_CONF, false for the built-in default path.
func Load(path string, failOnMissing bool) (*Config, error) {
	cfg := Default()

	if path == "" {
		if env, ok := os.LookupEnv("LHSM_COORD_CONF"); ok {
			path = env
			failOnMissing = true
		} else {
			path = "/etc/lhsm-coordinator.conf"
		}
	}

	if err := parseFile(cfg, path, failOnMissing); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseFile(cfg *Config, path string, failOnMissing bool) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && !failOnMissing {
			clog.Infof("config file %s not found, skipping", path)
			return nil
		}
		return fmt.Errorf("opening config file %s: %w", path, err)
	}
	defer f.Close()

	var hostMapRules []hostmap.Rule
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			clog.Warnf("skipping %q in %s (line %d): not in 'key value' format", line, path, lineNum)
			continue
		}
		val = strings.TrimSpace(val)
		if val == "" {
			clog.Warnf("skipping %q in %s (line %d): not in 'key value' format", line, path, lineNum)
			continue
		}
		if err := applyDirective(cfg, &hostMapRules, strings.ToLower(key), val); err != nil {
			return fmt.Errorf("%s line %d: %w", path, lineNum, err)
		}
	}
	if len(hostMapRules) > 0 {
		cfg.HostMapRules = hostMapRules
	}
	return scanner.Err()
}

func applyDirective(cfg *Config, hostMapRules *[]hostmap.Rule, key, val string) error {
	switch key {
	case "host":
		cfg.Host = val
	case "port":
		cfg.Port = val
	case "kv_host":
		cfg.KVHost = val
	case "kv_port":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("kv_port: %w", err)
		}
		cfg.KVPort = n
	case "client_grace_ms":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("client_grace_ms: %w", err)
		}
		cfg.ClientGraceMS = n
	case "batch_slots":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("batch_slots: %w", err)
		}
		cfg.BatchSlots = n
	case "batch_slice_idle_ms":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("batch_slice_idle_ms: %w", err)
		}
		cfg.BatchSliceIdleMS = n
	case "batch_slice_max_ms":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("batch_slice_max_ms: %w", err)
		}
		cfg.BatchSliceMaxMS = n
	case "archive_id":
		id, err := parseSizeSuffix(val)
		if err != nil {
			return fmt.Errorf("archive_id: %w", err)
		}
		cfg.ArchiveIDs = append(cfg.ArchiveIDs, id)
	case "reporting_dir":
		cfg.ReportingDir = val
	case "reporting_hint":
		cfg.ReportingHint = val
	case "state_dir_prefix":
		cfg.StateDirPrefix = val
	case "object_id_hint":
		cfg.ObjectIDHint = val
	case "group_hash":
		cfg.GroupHashEnabled = val == "1" || strings.EqualFold(val, "true")
	case "mirror_compress":
		cfg.MirrorCompress = val == "1" || strings.EqualFold(val, "true")
	case "locator":
		cfg.Locator = val
	case "locator_bucket":
		cfg.LocatorBucket = val
	case "locator_url":
		cfg.LocatorURL = val
	case "locator_namenode":
		cfg.LocatorNamenode = val
	case "metrics_addr":
		cfg.MetricsAddr = val
	case "jwt_secret":
		cfg.JWTSecret = val
	case "host_mapping":
		rule, err := parseHostMapping(val)
		if err != nil {
			return fmt.Errorf("host_mapping: %w", err)
		}
		*hostMapRules = append(*hostMapRules, rule)
	case "verbose":
		lvl, err := parseVerbose(val)
		if err != nil {
			return err
		}
		cfg.Verbose = lvl
	default:
		clog.Warnf("skipping unknown config key %q", key)
	}
	return nil
}

// parseHostMapping parses "tag=host1,host2,host3" into a hostmap.Rule.
func parseHostMapping(val string) (hostmap.Rule, error) {
	tag, hosts, ok := strings.Cut(val, "=")
	if !ok || tag == "" || hosts == "" {
		return hostmap.Rule{}, fmt.Errorf("expected 'tag=host1,host2,...', got %q", val)
	}
	return hostmap.Rule{Tag: tag, Hosts: strings.Split(hosts, ",")}, nil
}

// parseSizeSuffix parses an integer with an optional k/m/g (1024-based)
// suffix, mirroring str_suffix_to_u32; -1 means "unlimited" (MaxUint32).
func parseSizeSuffix(s string) (uint32, error) {
	if s == "-1" {
		return ^uint32(0), nil
	}
	mult := uint64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'g', 'G':
		mult = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	case 'k', 'K':
		mult = 1024
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, err
	}
	v := n * mult
	if v > uint64(^uint32(0)) {
		return 0, fmt.Errorf("%q overflows uint32 after suffix", s)
	}
	return uint32(v), nil
}

func parseVerbose(s string) (clog.Level, error) {
	switch strings.ToLower(s) {
	case "off":
		return clog.LevelOff, nil
	case "error", "fatal":
		return clog.LevelError, nil
	case "warn":
		return clog.LevelWarn, nil
	case "normal", "info":
		return clog.LevelInfo, nil
	case "debug":
		return clog.LevelDebug, nil
	default:
		return clog.LevelOff, fmt.Errorf("invalid verbosity level %q", s)
	}
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("LHSM_COORD_HOST"); ok {
		cfg.Host = v
	}
	if v, ok := os.LookupEnv("LHSM_COORD_PORT"); ok {
		cfg.Port = v
	}
	if v, ok := os.LookupEnv("LHSM_COORD_KV_HOST"); ok {
		cfg.KVHost = v
	}
	if v, ok := os.LookupEnv("LHSM_COORD_KV_PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LHSM_COORD_KV_PORT: %w", err)
		}
		cfg.KVPort = n
	}
	if v, ok := os.LookupEnv("LHSM_COORD_CLIENT_GRACE_MS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LHSM_COORD_CLIENT_GRACE_MS: %w", err)
		}
		cfg.ClientGraceMS = n
	}
	if v, ok := os.LookupEnv("LHSM_COORD_VERBOSE"); ok {
		lvl, err := parseVerbose(v)
		if err != nil {
			return err
		}
		cfg.Verbose = lvl
	}
	return nil
}
