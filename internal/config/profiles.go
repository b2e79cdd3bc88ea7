package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/BurntSushi/toml"
)

// Profiles holds the named connection profiles and which one is active.
type Profiles struct {
	Active   string             `toml:"active"`
	Profiles map[string]Profile `toml:"profiles"`
}

// Profile is a named set of endpoints and credentials.
type Profile struct {
	APIURL   string `toml:"api_url"`
	Token    string `toml:"token,omitempty"`
	NATSURL  string `toml:"nats_url,omitempty"`
	RelayURL string `toml:"relay_url,omitempty"`
}

// ProfilesPath returns ~/.config/dashfeed/profiles.toml, honoring
// XDG_CONFIG_HOME.
func ProfilesPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "dashfeed", "profiles.toml"), nil
}

// LoadProfiles reads the profiles file. A missing file is an empty set.
func LoadProfiles() (Profiles, error) {
	path, err := ProfilesPath()
	if err != nil {
		return Profiles{}, err
	}
	var p Profiles
	if _, err := toml.DecodeFile(path, &p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Profiles{Profiles: map[string]Profile{}}, nil
		}
		return Profiles{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if p.Profiles == nil {
		p.Profiles = map[string]Profile{}
	}
	return p, nil
}

// SaveProfiles writes the profiles file with owner-only permissions; it holds
// tokens.
func SaveProfiles(p Profiles) error {
	path, err := ProfilesPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(p)
}

// ActiveProfile returns the active profile, if one is set and exists.
func ActiveProfile() (Profile, bool) {
	ps, err := LoadProfiles()
	if err != nil || ps.Active == "" {
		return Profile{}, false
	}
	p, ok := ps.Profiles[ps.Active]
	return p, ok
}

// Names returns the profile names in sorted order.
func (p Profiles) Names() []string {
	return slices.Sorted(maps.Keys(p.Profiles))
}

// Use makes name the active profile.
func (p *Profiles) Use(name string) error {
	if _, ok := p.Profiles[name]; !ok {
		return fmt.Errorf("profile %q not found", name)
	}
	p.Active = name
	return nil
}

// Remove deletes a profile, clearing Active if it pointed at it.
func (p *Profiles) Remove(name string) error {
	if _, ok := p.Profiles[name]; !ok {
		return fmt.Errorf("profile %q not found", name)
	}
	delete(p.Profiles, name)
	if p.Active == name {
		p.Active = ""
	}
	return nil
}
