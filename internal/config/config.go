// Package config loads the mirror configuration from environment variables
// and command-line flags. Flags override the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dumpftp/dumpftp/internal/download"
)

// ErrUsage marks invalid command lines. The CLI prints usage and exits 2.
var ErrUsage = errors.New("usage error")

// PromptPassword is the -p value that asks for the password on the terminal.
const PromptPassword = "-"

// Config holds all dumpftp configuration.
type Config struct {
	// Remote
	Host       string
	Port       string
	Protocol   string // "ftp" or "sftp"
	User       string
	Password   string
	TLS        bool
	Insecure   bool
	KnownHosts string
	Timeout    time.Duration
	Retries    int

	// Mirror
	Target           string
	CreateEmptyDirs  bool
	DetectDuplicates bool
	Filter           string
	SizePolicy       download.SizePolicy

	// Output
	LogLevel    string
	LogFormat   string
	MetricsAddr string
	Progress    string

	// S3 target
	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Usage writes the command synopsis and flag defaults.
func Usage(fs *flag.FlagSet) func() {
	return func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage: %s [options] host[:port]\n", fs.Name())
		fs.PrintDefaults()
	}
}

// Parse reads the environment, then args. It returns flag.ErrHelp for -h
// and errors wrapping ErrUsage for bad command lines; usage has already
// been written to output in both cases.
func Parse(name string, args []string, output io.Writer) (*Config, error) {
	cfg := &Config{
		S3Endpoint:     envOr("S3_ENDPOINT", ""),
		S3Region:       envOr("S3_REGION", "us-east-1"),
		S3AccessKey:    envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:    envOr("S3_SECRET_KEY", ""),
		S3UsePathStyle: envBool("S3_USE_PATH_STYLE", false),
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = Usage(fs)

	fs.StringVar(&cfg.User, "u", envOr("DUMPFTP_USER", "anonymous"), "user name")
	fs.StringVar(&cfg.Password, "p", envOr("DUMPFTP_PASSWORD", "anonymous@"), `password ("-" prompts on the terminal)`)
	fs.StringVar(&cfg.Target, "d", envOr("DUMPFTP_TARGET", "/tmp"), "target directory, or s3://bucket/prefix")
	fs.BoolVar(&cfg.TLS, "s", false, "enable TLS (explicit on port 21, implicit otherwise)")
	fs.BoolVar(&cfg.CreateEmptyDirs, "e", false, "create empty directories")
	fs.StringVar(&cfg.Filter, "f", "*", "only download files whose name matches this shell pattern")
	fs.BoolVar(&cfg.DetectDuplicates, "dedup", false, "copy directories whose listing was already mirrored instead of downloading them")
	fs.StringVar(&cfg.Protocol, "proto", envOr("DUMPFTP_PROTOCOL", "ftp"), "remote protocol: ftp or sftp")
	sizePolicy := fs.String("size-policy", "lenient", "on size mismatch: lenient (warn) or strict (fail)")
	fs.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "connect timeout")
	fs.BoolVar(&cfg.Insecure, "insecure", false, "skip TLS certificate and SSH host key verification")
	fs.StringVar(&cfg.KnownHosts, "known-hosts", defaultKnownHosts(), "known_hosts file for sftp")
	fs.IntVar(&cfg.Retries, "retries", envInt("DUMPFTP_RETRIES", 3), "connection attempts")
	fs.StringVar(&cfg.LogLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", envOr("LOG_FORMAT", "console"), "log format: console or json")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", envOr("METRICS_ADDR", ""), "serve prometheus metrics on this address while running")
	fs.StringVar(&cfg.Progress, "progress", "auto", "progress display: auto, bar, log or none")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if fs.NArg() != 1 {
		fs.Usage()
		if fs.NArg() == 0 {
			return nil, fmt.Errorf("%w: missing host", ErrUsage)
		}
		return nil, fmt.Errorf("%w: unexpected arguments %q", ErrUsage, fs.Args()[1:])
	}

	policy, err := download.ParseSizePolicy(*sizePolicy)
	if err != nil {
		fs.Usage()
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	cfg.SizePolicy = policy

	cfg.Host, cfg.Port, err = splitHostPort(fs.Arg(0), defaultPort(cfg.Protocol))
	if err != nil {
		fs.Usage()
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if err := cfg.Validate(); err != nil {
		fs.Usage()
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return cfg, nil
}

// Validate checks option values.
func (c *Config) Validate() error {
	switch c.Protocol {
	case "ftp", "sftp":
	default:
		return fmt.Errorf("unknown protocol %q", c.Protocol)
	}
	if c.Host == "" {
		return fmt.Errorf("missing host")
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	if c.Filter == "" {
		return fmt.Errorf("empty filter pattern")
	}
	if _, err := path.Match(c.Filter, ""); err != nil {
		return fmt.Errorf("invalid filter pattern %q: %w", c.Filter, err)
	}
	if c.TLS && c.Protocol == "sftp" {
		return fmt.Errorf("-s applies to ftp only")
	}
	if c.Retries < 1 {
		return fmt.Errorf("retries must be at least 1")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	switch c.Progress {
	case "auto", "bar", "log", "none":
	default:
		return fmt.Errorf("unknown progress mode %q", c.Progress)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

func defaultPort(protocol string) string {
	if protocol == "sftp" {
		return "22"
	}
	return "21"
}

// splitHostPort accepts host, host:port, [v6] and [v6]:port.
func splitHostPort(arg, fallbackPort string) (string, string, error) {
	if host, port, err := net.SplitHostPort(arg); err == nil {
		if host == "" {
			return "", "", fmt.Errorf("missing host in %q", arg)
		}
		return host, port, nil
	}
	host := strings.TrimSuffix(strings.TrimPrefix(arg, "["), "]")
	if host == "" || strings.ContainsAny(host, "[]") {
		return "", "", fmt.Errorf("invalid host %q", arg)
	}
	if strings.Count(host, ":") == 1 {
		return "", "", fmt.Errorf("invalid host:port %q", arg)
	}
	return host, fallbackPort, nil
}

func defaultKnownHosts() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
