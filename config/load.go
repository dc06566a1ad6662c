package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

// Load fills every flag not set on the command line from the environment,
// then from the JSON file named by --config. Call it after fs.Parse.
func (c *Config) Load(fs *pflag.FlagSet) error {
	if err := LoadEnv(fs, EnvPrefix); err != nil {
		return err
	}
	if c.File == "" {
		return nil
	}
	return LoadJSON(fs, c.File)
}

// LoadEnv sets each flag not changed on the command line from the variable
// PREFIX_NAME, where NAME is the flag name upper-cased with dashes turned
// into underscores.
func LoadEnv(fs *pflag.FlagSet, prefix string) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed {
			return
		}
		key := envKey(prefix, f.Name)
		value, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if e := fs.Set(f.Name, value); e != nil {
			err = fmt.Errorf("config: %s: %w", key, e)
		}
	})
	return err
}

func envKey(prefix, name string) string {
	key := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	if prefix == "" {
		return key
	}
	return prefix + "_" + key
}

// LoadJSON sets flags from a JSON object. Nested objects join their keys
// with dashes, so {"file-cache": {"max": 64}} sets --file-cache-max.
// Flags already changed, on the command line or by LoadEnv, are left alone.
func LoadJSON(fs *pflag.FlagSet, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", filename, err)
	}
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("config: parse %s: %w", filename, err)
	}
	return loadMap(fs, "", values)
}

func loadMap(fs *pflag.FlagSet, prefix string, values map[string]any) error {
	for key, value := range values {
		name := key
		if prefix != "" {
			name = prefix + "-" + key
		}

		if nested, ok := value.(map[string]any); ok {
			if err := loadMap(fs, name, nested); err != nil {
				return err
			}
			continue
		}

		f := fs.Lookup(name)
		if f == nil {
			return fmt.Errorf("config: unknown setting %q", name)
		}
		if f.Changed {
			continue
		}
		if err := fs.Set(name, formatValue(value)); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// formatValue renders a decoded JSON scalar the way the flag parses it.
// Whole numbers print without an exponent.
func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprint(v)
	default:
		return fmt.Sprint(v)
	}
}
