package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# cache settings
cache:
  # directory holding cache files (default: the user cache dir)
  dir: ""
  # time after which a cached page is refetched
  ttl: "1h"
  # zstd level for cache files, 0 disables compression
  compression: 3

# fetch settings
fetch:
  # timeout for a single request
  timeout: "10s"
  # rate limit, to avoid being blocked upstream
  requests_per_minute: 30
  user_agent: "cafecache/1.0"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the cafecache config file",
	Long:    paragraph(fmt.Sprintf("\n%s the cafecache config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("cafecache config\ncafecache config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		name := configPath()
		if err := ensureConfigFile(name); err != nil {
			return err
		}

		c, err := editor.Cmd("cafecache", name)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", name)
		return nil
	},
}

// configPath returns the config file in effect: the --config flag, the file
// viper loaded, or the default location.
func configPath() string {
	if configFile != "" {
		return configFile
	}
	if used := viper.GetViper().ConfigFileUsed(); used != "" {
		return used
	}
	return defaultConfigFile
}

func ensureConfigFile(name string) error {
	if name == "" {
		return errors.New("no configuration file location")
	}

	if ext := path.Ext(name); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(name); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(name), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(name)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
