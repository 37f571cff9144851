// Package config loads the gateway configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Server        Server        `yaml:"server"`
	Remotes       []Remote      `yaml:"remotes"`
	Introspection Introspection `yaml:"introspection"`
	Extensions    Extensions    `yaml:"extensions"`
	// Demo registers the built-in chirp and user schemas.
	Demo bool `yaml:"demo"`
	Otel Otel `yaml:"otel"`
	Log  Log  `yaml:"log"`
}

type Server struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	Pretty         bool          `yaml:"pretty"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	GraphiQL       bool          `yaml:"graphiql"`
	ForwardHeaders []string      `yaml:"forward_headers"`
	Concurrency    int           `yaml:"concurrency"`
	CacheSize      int           `yaml:"cache_size"`
}

// Remote is a GraphQL endpoint introspected at startup.
type Remote struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

// Introspection controls retries of the startup introspection query.
type Introspection struct {
	MaxTries        uint          `yaml:"max_tries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxElapsed      time.Duration `yaml:"max_elapsed"`
}

type Otel struct {
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: Server{
			Port:      2000,
			Timeout:   10 * time.Second,
			GraphiQL:  true,
			CacheSize: 1024,
		},
		Introspection: Introspection{
			MaxTries:        5,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			MaxElapsed:      30 * time.Second,
		},
		Demo: true,
		Otel: Otel{Service: "stitchgraph"},
		Log:  Log{Level: "info"},
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalid, c.Server.Port)
	}
	names := map[string]bool{}
	for i, r := range c.Remotes {
		if r.Name == "" {
			return fmt.Errorf("%w: remotes[%d] has no name", ErrInvalid, i)
		}
		if names[r.Name] {
			return fmt.Errorf("%w: remote %q is listed twice", ErrInvalid, r.Name)
		}
		names[r.Name] = true
		u, err := url.Parse(r.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: remote %q has invalid url %q", ErrInvalid, r.Name, r.URL)
		}
	}
	if len(c.Remotes) == 0 && !c.Demo {
		return fmt.Errorf("%w: no remotes configured and demo disabled", ErrInvalid)
	}
	if c.Introspection.MaxTries == 0 {
		return fmt.Errorf("%w: introspection.max_tries must be positive", ErrInvalid)
	}
	for i, d := range c.Extensions.Delegations {
		if d.Type == "" || d.Field == "" || d.Schema == "" || d.Target == "" {
			return fmt.Errorf("%w: extensions.delegations[%d] needs type, field, schema and target", ErrInvalid, i)
		}
	}
	return nil
}
