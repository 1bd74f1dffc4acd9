package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// LoadFile reads a TOML file and overlays the keys it defines onto base.
// Keys absent from the file keep the value from base.
func LoadFile(path string, base Config) (Config, error) {
	out := base
	meta, err := toml.DecodeFile(path, &out)
	if err != nil {
		return Config{}, fmt.Errorf("load syncflow config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load syncflow config: unknown keys %v", undecoded)
	}
	return out, nil
}

// Decode parses TOML text the same way LoadFile does.
func Decode(data string, base Config) (Config, error) {
	out := base
	meta, err := toml.Decode(data, &out)
	if err != nil {
		return Config{}, fmt.Errorf("decode syncflow config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("decode syncflow config: unknown keys %v", undecoded)
	}
	return out, nil
}
