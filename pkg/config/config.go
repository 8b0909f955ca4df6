// Package config holds run settings layered from defaults, a YAML file,
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hervehildenbrand/bgp-explain/pkg/llm"
	"github.com/hervehildenbrand/bgp-explain/pkg/report"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BGP_EXPLAIN_"

// DefaultCollectors are the RIS route collectors queried when none are
// configured.
var DefaultCollectors = []string{
	"rrc00", "rrc01", "rrc03", "rrc04", "rrc05", "rrc06", "rrc07",
	"rrc10", "rrc11", "rrc12", "rrc13", "rrc14", "rrc15", "rrc16",
	"rrc17", "rrc18", "rrc19", "rrc20", "rrc21", "rrc22", "rrc23",
	"rrc24", "rrc25", "rrc26",
}

// Config is the full run configuration.
type Config struct {
	Collectors  []string `yaml:"collectors"`
	Sample      int      `yaml:"sample"` // collectors drawn per event, 0 keeps all
	Seed        int64    `yaml:"seed"`
	Concurrency int      `yaml:"concurrency"`
	SourceApp   string   `yaml:"sourceapp"`
	RISLiveURL  string   `yaml:"rislive_url"`

	LLM LLMConfig `yaml:"llm"`

	ReadPath string `yaml:"read_path"`
	SavePath string `yaml:"save_path"`
	Skip     []int  `yaml:"skip"`

	RedisURL    string `yaml:"redis"`
	DatabaseURL string `yaml:"database"`
	ASNData     string `yaml:"asn_data"`
}

// LLMConfig selects the model backend.
type LLMConfig struct {
	APIKey      string   `yaml:"api_key"`
	BaseURL     string   `yaml:"base_url"`
	Model       string   `yaml:"model"`
	Rounds      int      `yaml:"rounds"`
	Temperature *float64 `yaml:"temperature"`
	Timeout     string   `yaml:"timeout"`
	MaxRetries  int      `yaml:"max_retries"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Collectors:  append([]string(nil), DefaultCollectors...),
		Concurrency: 4,
		SourceApp:   "bgp-explain",
		RISLiveURL:  "wss://ris-live.ripe.net/v1/ws/",
		LLM: LLMConfig{
			Model:      llm.DefaultModel,
			Rounds:     report.DefaultRounds,
			Timeout:    "2m",
			MaxRetries: 3,
		},
		ReadPath: "./data/",
		SavePath: "./data/",
	}
}

// Load reads a YAML file over the defaults and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env files into the environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v := getenv(EnvPrefix + name)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	if v := getenv(EnvPrefix + "COLLECTORS"); v != "" {
		c.Collectors = SplitList(v)
	}
	if v := getenv(EnvPrefix + "SKIP"); v != "" {
		skip, err := ParseSkip(v)
		if err != nil {
			return fmt.Errorf("%sSKIP: %w", EnvPrefix, err)
		}
		c.Skip = skip
	}
	for name, dst := range map[string]*int{
		"SAMPLE":      &c.Sample,
		"CONCURRENCY": &c.Concurrency,
		"ROUNDS":      &c.LLM.Rounds,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}
	if v := getenv(EnvPrefix + "SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sSEED: %w", EnvPrefix, err)
		}
		c.Seed = seed
	}

	str("SOURCEAPP", &c.SourceApp)
	str("RISLIVE_URL", &c.RISLiveURL)
	str("MODEL", &c.LLM.Model)
	str("READ_PATH", &c.ReadPath)
	str("SAVE_PATH", &c.SavePath)
	str("REDIS", &c.RedisURL)
	str("DATABASE", &c.DatabaseURL)
	str("ASN_DATA", &c.ASNData)

	if v := getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := getenv("OPENAI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	return nil
}

// Validate checks settings that would otherwise fail mid-run.
func (c *Config) Validate() error {
	if len(c.Collectors) == 0 {
		return errors.New("no collectors configured")
	}
	if c.Sample < 0 {
		return fmt.Errorf("sample must not be negative, got %d", c.Sample)
	}
	if c.LLM.Rounds < 1 {
		return fmt.Errorf("rounds must be at least 1, got %d", c.LLM.Rounds)
	}
	if _, err := c.LLMTimeout(); err != nil {
		return err
	}
	return nil
}

// LLMTimeout parses the model request timeout.
func (c *Config) LLMTimeout() (time.Duration, error) {
	if c.LLM.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid llm timeout %q: %w", c.LLM.Timeout, err)
	}
	return d, nil
}

// ClientConfig builds the model client settings.
func (c *Config) ClientConfig() (llm.Config, error) {
	timeout, err := c.LLMTimeout()
	if err != nil {
		return llm.Config{}, err
	}
	return llm.Config{
		APIKey:      c.LLM.APIKey,
		BaseURL:     c.LLM.BaseURL,
		Model:       c.LLM.Model,
		Timeout:     timeout,
		Temperature: c.LLM.Temperature,
		MaxRetries:  c.LLM.MaxRetries,
	}, nil
}

// SkipSet returns the skipped event indices as a set.
func (c *Config) SkipSet() map[int]bool {
	set := make(map[int]bool, len(c.Skip))
	for _, i := range c.Skip {
		set[i] = true
	}
	return set
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseSkip parses a comma-separated list of event indices.
func ParseSkip(s string) ([]int, error) {
	var out []int
	for _, part := range SplitList(s) {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid event index %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}
