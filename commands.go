package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:     "get URL",
		Short:   "Print a page, fetching it if the cached copy is missing or stale",
		Example: paragraph("cafecache get https://steamcommunity.com/groups/cafe/announcements"),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newPageCache(args[0])
			if err != nil {
				return err
			}
			page, err := c.Get(cmd.Context())
			if err != nil {
				return fmt.Errorf("unable to get page: %w", err)
			}
			if _, err := cmd.OutOrStdout().Write(page.Body); err != nil {
				return fmt.Errorf("unable to write to writer: %w", err)
			}
			return nil
		},
	}

	refreshCmd = &cobra.Command{
		Use:   "refresh URL",
		Short: "Fetch a page and replace its cached copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newPageCache(args[0])
			if err != nil {
				return err
			}
			page, err := c.RequestAndUpdate(cmd.Context())
			if err != nil {
				return fmt.Errorf("unable to refresh page: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Refreshed %s (%s)\n", page.URL, humanize.Bytes(uint64(len(page.Body))))
			return nil
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status URL",
		Short: "Show when a page was last cached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newPageCache(args[0])
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), c)
		},
	}

	clearCmd = &cobra.Command{
		Use:   "clear URL",
		Short: "Remove the cached copy of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newPageCache(args[0])
			if err != nil {
				return err
			}
			if err := c.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared", c.Location())
			return nil
		},
	}

	watchCmd = &cobra.Command{
		Use:   "watch URL",
		Short: "Report every time the cached copy of a page changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newPageCache(args[0])
			if err != nil {
				return err
			}
			return watchStore(cmd.Context(), cmd.OutOrStdout(), c)
		},
	}
)

// store is the read-only view of a cache the status commands need.
type store interface {
	Location() string
	TTL() time.Duration
	Exists() bool
	ModificationTime() time.Time
	Age() time.Duration
	AgeDescription() string
}

func printStatus(w io.Writer, s store) error {
	updated := "never"
	state := staleStyle("missing")
	if s.Exists() {
		updated = humanize.Time(s.ModificationTime())
		state = keyword("fresh")
		if s.Age() > s.TTL() {
			state = staleStyle("stale")
		}
	}

	_, err := fmt.Fprintf(w, "%s%s\n%s%s\n%s%s\n%s%s\n",
		label("Location"), s.Location(),
		label("Updated"), updated,
		label("Age"), s.AgeDescription(),
		label("State"), state,
	)
	if err != nil {
		return fmt.Errorf("unable to write to writer: %w", err)
	}
	return nil
}

// watchStore prints the age of s each time its store is written or removed,
// until ctx is done.
func watchStore(ctx context.Context, w io.Writer, s store) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error creating fsnotify watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck

	dir := filepath.Dir(s.Location())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("unable to create cache directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("error adding dir to fsnotify watcher: %w", err)
	}
	log.Info("fsnotify watching dir", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.Location() {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}

			log.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			if _, err := fmt.Fprintf(w, "%s  %s\n", time.Now().Format(time.TimeOnly), s.AgeDescription()); err != nil {
				return fmt.Errorf("unable to write to writer: %w", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Debug("fsnotify error", "dir", dir, "error", err)
		}
	}
}
