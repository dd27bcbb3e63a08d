// config.go holds .inbox config types and resolution (file, flags, defaults).
package inboxcli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"github.com/medstay/inbox/conversationid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const configDirName = ".inbox"

// localConfig holds values from .inbox/config.yaml. The same struct carries
// flag values, which take precedence when merged.
type localConfig struct {
	DB          string `yaml:"db"`
	Identity    string `yaml:"identity"`
	Role        string `yaml:"role"`
	NATSURL     string `yaml:"nats_url"`
	KVAddr      string `yaml:"kv_addr"`
	KVPassword  string `yaml:"kv_password"`
	TokenSecret string `yaml:"token_secret"`
	Directory   string `yaml:"directory"`
	TimeZone    string `yaml:"time_zone"`
	Trace       bool   `yaml:"trace"`
	JSON        bool   `yaml:"json"`
}

// loadLocalConfig reads explicit when set, otherwise tries ./.inbox/config.yaml then
// ~/.inbox/config.yaml. Returns the config and the file it came from, or an empty
// config and "" when no file exists.
func loadLocalConfig(explicit string) (localConfig, string, error) {
	try := []string{}
	if explicit != "" {
		try = append(try, explicit)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return localConfig{}, "", err
		}
		try = append(try, filepath.Join(cwd, configDirName, "config.yaml"))
		if home, err := os.UserHomeDir(); err == nil {
			try = append(try, filepath.Join(home, configDirName, "config.yaml"))
		}
	}
	for _, p := range try {
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) && explicit == "" {
				continue
			}
			return localConfig{}, "", err
		}
		var cfg localConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return localConfig{}, "", fmt.Errorf("%s: %w", p, err)
		}
		return cfg, p, nil
	}
	return localConfig{}, "", nil
}

func flagsConfig(cmd *cobra.Command) localConfig {
	flags := cmd.Flags()
	var cfg localConfig
	cfg.DB, _ = flags.GetString("db")
	cfg.Identity, _ = flags.GetString("as")
	cfg.Role, _ = flags.GetString("role")
	cfg.NATSURL, _ = flags.GetString("nats")
	cfg.KVAddr, _ = flags.GetString("kv")
	cfg.Directory, _ = flags.GetString("directory")
	cfg.TimeZone, _ = flags.GetString("tz")
	cfg.Trace, _ = flags.GetBool("trace")
	cfg.JSON, _ = flags.GetBool("json")
	return cfg
}

// mergeConfig fills every field left empty in fromFlags with the file value, then
// applies defaults. dir is the .inbox directory the database defaults into.
func mergeConfig(fromFlags, fromFile localConfig, dir string) (localConfig, error) {
	cfg := fromFlags
	if err := mergo.Merge(&cfg, fromFile); err != nil {
		return localConfig{}, fmt.Errorf("merge config: %w", err)
	}
	if cfg.DB == "" {
		cfg.DB = filepath.Join(dir, "inbox.db")
	}
	if cfg.Role == "" {
		cfg.Role = string(conversationid.RoleGuest)
	}
	return cfg, nil
}

func resolveConfig(cmd *cobra.Command) (localConfig, error) {
	explicit, _ := cmd.Flags().GetString("config")
	fromFile, path, err := loadLocalConfig(explicit)
	if err != nil {
		return localConfig{}, fmt.Errorf("failed to load config: %w", err)
	}
	dir := filepath.Dir(path)
	if path == "" {
		cwd, _ := os.Getwd()
		dir = filepath.Join(cwd, configDirName)
	}
	return mergeConfig(flagsConfig(cmd), fromFile, dir)
}

func (c localConfig) role() (conversationid.Role, error) {
	return conversationid.ParseRole(c.Role)
}

func (c localConfig) location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time_zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

func (c localConfig) requireIdentity() (string, error) {
	if c.Identity == "" {
		return "", fmt.Errorf("no identity: pass --as or set identity in %s/config.yaml", configDirName)
	}
	if err := conversationid.ValidateIdentity(c.Identity); err != nil {
		return "", err
	}
	return c.Identity, nil
}
