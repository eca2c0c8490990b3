package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Seed is the optional yaml file that populates accounts, notification
// channels and their bindings on start. Existing rows are updated in place.
type Seed struct {
	Accounts []SeedAccount  `koanf:"accounts"`
	Channels []SeedChannel  `koanf:"channels"`
	Bindings []SeedBinding  `koanf:"bindings"`
	Settings map[string]any `koanf:"settings"`
}

type SeedAccount struct {
	Username      string `koanf:"username"`
	SessionCookie string `koanf:"session_cookie"`
	UserID        int64  `koanf:"user_id"`
	Active        *bool  `koanf:"active"`
}

func (a SeedAccount) IsActive() bool {
	return a.Active == nil || *a.Active
}

type SeedChannel struct {
	Name    string         `koanf:"name"`
	Type    string         `koanf:"type"`
	Config  map[string]any `koanf:"config"`
	Enabled *bool          `koanf:"enabled"`
}

func (c SeedChannel) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

type SeedBinding struct {
	Account string         `koanf:"account"`
	Channel string         `koanf:"channel"`
	Config  map[string]any `koanf:"config"`
	Enabled *bool          `koanf:"enabled"`
}

func (b SeedBinding) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// LoadSeed reads path. A missing file yields an empty seed.
func LoadSeed(path string) (*Seed, error) {
	seed := &Seed{}
	if strings.TrimSpace(path) == "" {
		return seed, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return seed, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load seed file %s: %w", path, err)
	}
	if err := k.Unmarshal("", seed); err != nil {
		return nil, fmt.Errorf("failed to decode seed file %s: %w", path, err)
	}
	if err := seed.validate(); err != nil {
		return nil, fmt.Errorf("invalid seed file %s: %w", path, err)
	}
	return seed, nil
}

func (s *Seed) validate() error {
	accounts := map[string]bool{}
	for i, a := range s.Accounts {
		if strings.TrimSpace(a.Username) == "" {
			return fmt.Errorf("account %d: username is required", i)
		}
		if accounts[a.Username] {
			return fmt.Errorf("account %q listed twice", a.Username)
		}
		accounts[a.Username] = true
	}
	channels := map[string]bool{}
	for i, c := range s.Channels {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Type) == "" {
			return fmt.Errorf("channel %d: name and type are required", i)
		}
		channels[c.Name] = true
	}
	for _, b := range s.Bindings {
		if !accounts[b.Account] {
			return fmt.Errorf("binding references unknown account %q", b.Account)
		}
		if !channels[b.Channel] {
			return fmt.Errorf("binding references unknown channel %q", b.Channel)
		}
	}
	return nil
}
