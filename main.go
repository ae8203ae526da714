// Package main provides the entry point for the cafecache CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/cafeofbrokendreams/cafesite/internal/cache"
	"github.com/cafeofbrokendreams/cafesite/internal/fetch"
	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// pageVersion tags stored pages; bump it when fetch.Page changes shape.
const pageVersion = 1

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile        string
	defaultConfigFile string
	settings          options

	rootCmd = &cobra.Command{
		Use:   "cafecache",
		Short: "Serve community pages from a time-boxed disk cache",
		Long: paragraph(
			fmt.Sprintf("\nFetch pages through a %s on disk, refreshing them once they go stale.", keyword("time-boxed cache")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return validateOptions()
		},
	}
)

// options are the validated settings shared by all commands.
type options struct {
	CacheDir          string
	TTL               time.Duration
	Compression       int
	Timeout           time.Duration
	RequestsPerMinute int
	UserAgent         string
}

func validateOptions() error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	cacheDir := viper.GetString("cache.dir")
	if cacheDir == "" {
		dir, err := gap.NewScope(gap.User, "cafecache").CacheDir()
		if err != nil {
			return fmt.Errorf("unable to find cache directory: %w", err)
		}
		cacheDir = dir
	}
	cacheDir, err := homedir.Expand(cacheDir)
	if err != nil {
		return fmt.Errorf("unable to expand cache directory: %w", err)
	}

	ttl := viper.GetDuration("cache.ttl")
	if ttl < 0 {
		return fmt.Errorf("cache ttl must not be negative, got %s", ttl)
	}

	compression := viper.GetInt("cache.compression")
	if compression < 0 || compression > 22 {
		return fmt.Errorf("cache compression must be between 0 and 22, got %d", compression)
	}

	rpm := viper.GetInt("fetch.requests_per_minute")
	if rpm < 1 {
		return fmt.Errorf("fetch requests_per_minute must be positive, got %d", rpm)
	}

	settings = options{
		CacheDir:          filepath.Clean(cacheDir),
		TTL:               ttl,
		Compression:       compression,
		Timeout:           viper.GetDuration("fetch.timeout"),
		RequestsPerMinute: rpm,
		UserAgent:         viper.GetString("fetch.user_agent"),
	}
	log.Debug("Using cache settings", "dir", settings.CacheDir, "ttl", settings.TTL, "compression", settings.Compression)
	return nil
}

// newPageCache builds the cache holding the page for url.
func newPageCache(url string) (*cache.Cache[fetch.Page], error) {
	client := fetch.New(fetch.Config{
		Timeout:           settings.Timeout,
		RequestsPerMinute: settings.RequestsPerMinute,
		UserAgent:         settings.UserAgent,
	})

	c, err := cache.New(
		cache.FileName(settings.CacheDir, url),
		settings.TTL,
		client.Producer(url),
		fetch.ForURL(url),
		cache.WithCompression(settings.Compression),
		cache.WithKind("fetch.Page"),
		cache.WithVersion(pageVersion),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create cache: %w", err)
	}
	return c, nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err = rootCmd.ExecuteContext(ctx)
	stop()
	_ = closer()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", configPath()))
	rootCmd.PersistentFlags().String("cache-dir", "", "directory holding cache files")
	rootCmd.PersistentFlags().Duration("ttl", time.Hour, "time after which a cached page is refetched")
	rootCmd.PersistentFlags().Int("compression", 3, "zstd level for cache files (0 disables compression)")

	// Config bindings
	_ = viper.BindPFlag("cache.dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	_ = viper.BindPFlag("cache.ttl", rootCmd.PersistentFlags().Lookup("ttl"))
	_ = viper.BindPFlag("cache.compression", rootCmd.PersistentFlags().Lookup("compression"))

	viper.SetDefault("cache.dir", "")
	viper.SetDefault("cache.ttl", time.Hour)
	viper.SetDefault("cache.compression", 3)
	viper.SetDefault("fetch.timeout", 10*time.Second)
	viper.SetDefault("fetch.requests_per_minute", 30)
	viper.SetDefault("fetch.user_agent", fetch.DefaultUserAgent)

	rootCmd.AddCommand(getCmd, refreshCmd, statusCmd, clearCmd, watchCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "cafecache")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "cafecache")}, dirs...)
	}

	if c := os.Getenv("CAFE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("cafecache")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("cafe")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Warn("Could not parse configuration file", "error", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	defaultConfigFile = filepath.Join(dirs[0], "cafecache.yml")
	if err := ensureConfigFile(defaultConfigFile); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
