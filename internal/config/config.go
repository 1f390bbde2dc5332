package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/mblsha/zipforge/internal/archive"
	"github.com/mblsha/zipforge/internal/archiver"
)

const (
	defaultListenAddr              = ":8080"
	defaultSourceDir               = "/data"
	defaultOutputDir               = "/output"
	defaultSevenZipBin             = "7z"
	defaultArchiverTimeout         = 30 * time.Minute
	defaultMaxRequestBytes   int64 = 1 << 20
	defaultMaxFiles                = 100000
	defaultMaxExtractedTotal int64 = 16 << 30
	defaultMaxExtractedFile  int64 = 4 << 30
	defaultLogLevel                = "info"
	defaultLogFormat               = "text"
	defaultDiscoveryService        = "_zipforge._tcp"
	defaultDiscoveryDomain         = "local."

	// placeholderToken ships in sample deployments and is never accepted.
	placeholderToken = "changeme"
)

// Config controls server behavior.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	SourceDir  string `yaml:"source_dir"`
	OutputDir  string `yaml:"output_dir"`

	Token     string   `yaml:"token"`
	TokenFile string   `yaml:"token_file"`
	Allowlist []string `yaml:"allowlist"`

	Archiver        string        `yaml:"archiver"`
	SevenZipBin     string        `yaml:"sevenzip_bin"`
	ArchiverTimeout time.Duration `yaml:"archiver_timeout"`

	MaxRequestBytes        int64 `yaml:"max_request_bytes"`
	MaxExtractedFiles      int   `yaml:"max_extracted_files"`
	MaxExtractedTotalBytes int64 `yaml:"max_extracted_total_bytes"`
	MaxExtractedFileBytes  int64 `yaml:"max_extracted_file_bytes"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Discovery         bool   `yaml:"discovery"`
	DiscoveryService  string `yaml:"discovery_service"`
	DiscoveryDomain   string `yaml:"discovery_domain"`
	DiscoveryInstance string `yaml:"discovery_instance"`

	Metrics bool `yaml:"metrics"`
}

func Default() Config {
	return Config{
		ListenAddr:             defaultListenAddr,
		SourceDir:              defaultSourceDir,
		OutputDir:              defaultOutputDir,
		Archiver:               archiver.BackendSevenZip,
		SevenZipBin:            defaultSevenZipBin,
		ArchiverTimeout:        defaultArchiverTimeout,
		MaxRequestBytes:        defaultMaxRequestBytes,
		MaxExtractedFiles:      defaultMaxFiles,
		MaxExtractedTotalBytes: defaultMaxExtractedTotal,
		MaxExtractedFileBytes:  defaultMaxExtractedFile,
		LogLevel:               defaultLogLevel,
		LogFormat:              defaultLogFormat,
		DiscoveryService:       defaultDiscoveryService,
		DiscoveryDomain:        defaultDiscoveryDomain,
		Metrics:                true,
	}
}

// FromEnv starts from Default, applies ZIPFORGE_CONFIG_FILE when set, then
// environment overrides, then resolves the token file.
func FromEnv() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("ZIPFORGE_CONFIG_FILE")); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.ListenAddr = getEnv("ZIPFORGE_LISTEN_ADDR", cfg.ListenAddr)
	cfg.SourceDir = getEnv("ZIPFORGE_SOURCE_DIR", cfg.SourceDir)
	cfg.OutputDir = getEnv("ZIPFORGE_OUTPUT_DIR", cfg.OutputDir)
	cfg.Token = getEnv("ZIPFORGE_TOKEN", cfg.Token)
	cfg.TokenFile = getEnv("ZIPFORGE_TOKEN_FILE", cfg.TokenFile)
	if v := os.Getenv("ZIPFORGE_ALLOWLIST"); strings.TrimSpace(v) != "" {
		cfg.Allowlist = parseCSV(v)
	}
	cfg.Archiver = getEnv("ZIPFORGE_ARCHIVER", cfg.Archiver)
	cfg.SevenZipBin = getEnv("ZIPFORGE_SEVENZIP_BIN", cfg.SevenZipBin)
	cfg.LogLevel = getEnv("ZIPFORGE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("ZIPFORGE_LOG_FORMAT", cfg.LogFormat)
	cfg.DiscoveryService = getEnv("ZIPFORGE_DISCOVERY_SERVICE", cfg.DiscoveryService)
	cfg.DiscoveryDomain = getEnv("ZIPFORGE_DISCOVERY_DOMAIN", cfg.DiscoveryDomain)
	cfg.DiscoveryInstance = getEnv("ZIPFORGE_DISCOVERY_INSTANCE", cfg.DiscoveryInstance)

	if v := strings.TrimSpace(os.Getenv("ZIPFORGE_ARCHIVER_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse ZIPFORGE_ARCHIVER_TIMEOUT: %w", err)
		}
		cfg.ArchiverTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("ZIPFORGE_MAX_REQUEST_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse ZIPFORGE_MAX_REQUEST_BYTES: %w", err)
		}
		cfg.MaxRequestBytes = n
	}
	if v := strings.TrimSpace(os.Getenv("ZIPFORGE_MAX_EXTRACTED_FILES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse ZIPFORGE_MAX_EXTRACTED_FILES: %w", err)
		}
		cfg.MaxExtractedFiles = n
	}
	if v := strings.TrimSpace(os.Getenv("ZIPFORGE_MAX_EXTRACTED_TOTAL_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse ZIPFORGE_MAX_EXTRACTED_TOTAL_BYTES: %w", err)
		}
		cfg.MaxExtractedTotalBytes = n
	}
	if v := strings.TrimSpace(os.Getenv("ZIPFORGE_MAX_EXTRACTED_FILE_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse ZIPFORGE_MAX_EXTRACTED_FILE_BYTES: %w", err)
		}
		cfg.MaxExtractedFileBytes = n
	}
	for key, dst := range map[string]*bool{
		"ZIPFORGE_DISCOVERY": &cfg.Discovery,
		"ZIPFORGE_METRICS":   &cfg.Metrics,
	} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", key, err)
			}
			*dst = b
		}
	}

	cfg.resolveTokenFile()
	return cfg, cfg.Validate()
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// resolveTokenFile prefers a readable, non-empty token file over Token.
func (c *Config) resolveTokenFile() {
	if strings.TrimSpace(c.TokenFile) == "" {
		return
	}
	log := logrus.WithField("token_file", c.TokenFile)
	raw, err := os.ReadFile(c.TokenFile)
	if err != nil {
		log.WithError(err).Warn("cannot read token file; falling back to ZIPFORGE_TOKEN")
		return
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		log.Warn("token file is empty; falling back to ZIPFORGE_TOKEN")
		return
	}
	c.Token = token
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.SourceDir) == "" {
		return errors.New("source dir is required")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("output dir is required")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("listen addr is required")
	}
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("token is required: set ZIPFORGE_TOKEN or ZIPFORGE_TOKEN_FILE")
	}
	if c.Token == placeholderToken {
		return errors.New("token must not be the placeholder value \"changeme\"")
	}
	if _, err := archiver.NormalizeBackend(c.Archiver); err != nil {
		return err
	}
	if strings.TrimSpace(c.SevenZipBin) == "" {
		return errors.New("7z bin is required")
	}
	if c.ArchiverTimeout <= 0 {
		return errors.New("archiver timeout must be > 0")
	}
	if c.MaxRequestBytes <= 0 {
		return errors.New("max request bytes must be > 0")
	}
	if c.MaxExtractedFiles <= 0 {
		return errors.New("max extracted files must be > 0")
	}
	if c.MaxExtractedTotalBytes <= 0 {
		return errors.New("max extracted total bytes must be > 0")
	}
	if c.MaxExtractedFileBytes <= 0 {
		return errors.New("max extracted file bytes must be > 0")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: expected text or json", c.LogFormat)
	}
	if c.Discovery && strings.TrimSpace(c.DiscoveryService) == "" {
		return errors.New("discovery service is required when discovery is enabled")
	}
	for _, entry := range c.Allowlist {
		if err := validateAllowEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) AllowlistEnabled() bool {
	return len(c.Allowlist) > 0
}

func (c Config) ExtractionLimits() archive.Limits {
	return archive.Limits{
		MaxFiles:      c.MaxExtractedFiles,
		MaxTotalBytes: c.MaxExtractedTotalBytes,
		MaxFileBytes:  c.MaxExtractedFileBytes,
	}
}

// LastTokenDigits returns at most the last three characters of the token.
func (c Config) LastTokenDigits() string {
	if len(c.Token) <= 3 {
		return c.Token
	}
	return c.Token[len(c.Token)-3:]
}

func getEnv(k, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return fallback
}

func parseCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func validateAllowEntry(entry string) error {
	if entry == "" {
		return errors.New("allowlist entry cannot be empty")
	}
	if strings.Contains(entry, "/") {
		if _, _, err := net.ParseCIDR(entry); err != nil {
			return fmt.Errorf("invalid allowlist cidr %q: %w", entry, err)
		}
		return nil
	}
	if ip := net.ParseIP(entry); ip == nil {
		return fmt.Errorf("invalid allowlist ip %q", entry)
	}
	return nil
}
