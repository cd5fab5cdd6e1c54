// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. E5N_PORT.
const Prefix = "E5N"

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is the full process configuration.
type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Store string `envconfig:"STORE" default:"postgres"`

	DB DB `envconfig:"DB"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	BasePoint         float64         `envconfig:"BASE_POINT" default:"10"`
	TeamSizeModifiers map[int]float64 `envconfig:"TEAM_SIZE_MODIFIERS" default:"1:1,2:0.8,3:0.7,4:0.6"`
	ScoringEventCode  string          `envconfig:"SCORING_EVENT_CODE" default:"E5N"`
	StudentListTTL    time.Duration   `envconfig:"STUDENT_LIST_TTL" default:"60s"`
}

// DB holds PostgreSQL connection settings.
type DB struct {
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     string `envconfig:"PORT" default:"5432"`
	User     string `envconfig:"USER" default:"postgres"`
	Password string `envconfig:"PASSWORD" default:"postgres"`
	Name     string `envconfig:"NAME" default:"e5n"`
	SSLMode  string `envconfig:"SSLMODE" default:"disable"`
	MaxConns int32  `envconfig:"MAX_CONNS" default:"20"`
}

// DSN builds a libpq-compatible connection string.
func (c DB) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	if c.BasePoint < 0 {
		return fmt.Errorf("config: base point must not be negative")
	}
	if len(c.TeamSizeModifiers) == 0 {
		return fmt.Errorf("config: team size modifiers are empty")
	}
	for size, mod := range c.TeamSizeModifiers {
		if size < 1 || mod < 0 {
			return fmt.Errorf("config: invalid team size modifier %d:%v", size, mod)
		}
	}
	return nil
}

// TeamSizeModifier returns the scoring multiplier for a team of size.
// Sizes not listed use the closest smaller entry, sizes below the smallest
// entry use the smallest.
func (c *Config) TeamSizeModifier() func(size int) float64 {
	sizes := make([]int, 0, len(c.TeamSizeModifiers))
	for s := range c.TeamSizeModifiers {
		sizes = append(sizes, s)
	}
	sort.Ints(sizes)
	table := c.TeamSizeModifiers
	return func(size int) float64 {
		pick := sizes[0]
		for _, s := range sizes {
			if s > size {
				break
			}
			pick = s
		}
		return table[pick]
	}
}

// modifiersString renders the modifier table in the same form it is configured.
func (c *Config) modifiersString() string {
	parts := make([]string, 0, len(c.TeamSizeModifiers))
	for s, m := range c.TeamSizeModifiers {
		parts = append(parts, strconv.Itoa(s)+":"+strconv.FormatFloat(m, 'g', -1, 64))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// Summary is a loggable description without secrets.
func (c *Config) Summary() string {
	return fmt.Sprintf("port=%s store=%s db=%s:%s/%s base_point=%v modifiers=%s",
		c.Port, c.Store, c.DB.Host, c.DB.Port, c.DB.Name, c.BasePoint, c.modifiersString())
}
