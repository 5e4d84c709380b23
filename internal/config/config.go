package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"receipts/internal"
)

const FileName = "receipt-extractor.toml"

const (
	ProviderIMAP  = "imap"
	ProviderGmail = "gmail"
)

var (
	ErrNoConfigFile = errors.New("no configuration file found")
	ErrNoServers    = errors.New("configuration file does not contain any [server.*] blocks")
)

// IncompleteServersError lists server blocks lacking required keys.
type IncompleteServersError struct {
	Servers []string
}

func (e *IncompleteServersError) Error() string {
	return "the following server block(s) are incomplete: " + strings.Join(e.Servers, ", ")
}

type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type Server struct {
	Name     string `toml:"-"`
	Provider string `toml:"provider"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	SSL      bool   `toml:"ssl"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Mailbox  string `toml:"mailbox"`

	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RefreshToken string `toml:"refresh_token"`
	RedirectURI  string `toml:"redirect_uri"`
}

type Chrome struct {
	Path             string `toml:"path"`
	RenderTimeoutSec int    `toml:"render_timeout_sec"`
	StartAttempts    int    `toml:"start_attempts"`
}

type FreeNow struct {
	PaymentMethods map[string][]string `toml:"payment_methods"`
}

type Config struct {
	Path      string            `toml:"-"`
	OutputDir string            `toml:"output_dir"`
	Since     string            `toml:"since"`
	Journal   string            `toml:"journal"`
	RawDir    string            `toml:"raw_dir"`
	Chrome    Chrome            `toml:"chrome"`
	Servers   map[string]Server `toml:"server"`
	FreeNow   FreeNow           `toml:"free_now"`
}

var requiredKeys = map[string][]string{
	ProviderIMAP:  {"host", "port", "ssl", "username", "password"},
	ProviderGmail: {"client_id", "client_secret", "refresh_token"},
}

// SearchPaths returns the config locations tried when no explicit path is given.
func SearchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(".", FileName),
		filepath.Join(home, "."+FileName),
		filepath.Join(home, ".receipt-extractor", FileName),
		filepath.Join(home, ".receipt-extractor", "config.toml"),
	}
}

// Load reads the first existing config file, validates the server blocks and
// applies environment overrides (a .env file in the working directory is honoured).
func Load(explicit string) (Config, error) {
	_ = godotenv.Load()

	candidates := SearchPaths()
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		candidates = []string{explicit}
	} else if env := strings.TrimSpace(getEnv("RECEIPTS_CONFIG", "")); env != "" {
		candidates = []string{env}
	}

	path := ""
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			path = c
			break
		}
	}
	if path == "" {
		return Config{}, ErrNoConfigFile
	}

	return LoadFile(path)
}

func LoadFile(path string) (Config, error) {
	cfg := Config{
		OutputDir: ".",
		Since:     "1-Jan-2019",
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, &ParseError{Path: path, Err: err}
	}
	cfg.Path = path

	if len(cfg.Servers) == 0 {
		return Config{}, ErrNoServers
	}

	var incomplete []string
	for name, srv := range cfg.Servers {
		srv.Name = name
		srv.Provider = strings.ToLower(strings.TrimSpace(srv.Provider))
		if srv.Provider == "" {
			srv.Provider = ProviderIMAP
		}
		keys, ok := requiredKeys[srv.Provider]
		if !ok {
			incomplete = append(incomplete, name)
			continue
		}
		for _, key := range keys {
			if !md.IsDefined("server", name, key) {
				incomplete = append(incomplete, name)
				break
			}
		}
		if srv.Mailbox == "" {
			srv.Mailbox = "INBOX"
		}
		cfg.Servers[name] = srv
	}
	if len(incomplete) > 0 {
		sort.Strings(incomplete)
		return Config{}, &IncompleteServersError{Servers: incomplete}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.OutputDir = getEnv("RECEIPTS_OUTPUT_DIR", c.OutputDir)
	c.Journal = getEnv("RECEIPTS_JOURNAL", c.Journal)
	c.RawDir = getEnv("RECEIPTS_RAW_DIR", c.RawDir)
	c.Since = getEnv("RECEIPTS_SINCE", c.Since)
	c.Chrome.Path = getEnv("RECEIPTS_CHROME_PATH", c.Chrome.Path)
	c.Chrome.RenderTimeoutSec = getEnvInt("RECEIPTS_RENDER_TIMEOUT_SEC", c.Chrome.RenderTimeoutSec)
	if c.Chrome.RenderTimeoutSec <= 0 {
		c.Chrome.RenderTimeoutSec = 60
	}
	if c.Chrome.StartAttempts <= 0 {
		c.Chrome.StartAttempts = 8
	}
}

// ServerNames returns the configured server keys in stable order.
func (c Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PaymentMethods returns the FREE NOW payment methods eligible in mode.
func (c Config) PaymentMethods(mode internal.Mode) []string {
	return c.FreeNow.PaymentMethods[string(mode)]
}

func (c Chrome) RenderTimeout() time.Duration {
	return time.Duration(c.RenderTimeoutSec) * time.Second
}

// ExitCode maps configuration errors to distinct process exit codes.
func ExitCode(err error) int {
	var incomplete *IncompleteServersError
	var parseErr *ParseError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNoConfigFile):
		return 1
	case errors.Is(err, ErrNoServers):
		return 2
	case errors.As(err, &incomplete):
		return 3
	case errors.As(err, &parseErr):
		return 4
	default:
		return 1
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
