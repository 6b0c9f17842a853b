package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/rainfeed/internal/app"
	"github.com/nhle/rainfeed/internal/dispatch"
	"github.com/nhle/rainfeed/internal/droplet"
	"github.com/nhle/rainfeed/internal/logging"
	"github.com/nhle/rainfeed/internal/model"
	"github.com/nhle/rainfeed/internal/settings"
	"github.com/nhle/rainfeed/internal/source/email"
	"github.com/nhle/rainfeed/internal/store"
	"github.com/nhle/rainfeed/internal/vault"
)

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "rainfeed: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := openLogger(configPath)

	// The master record decides between first-run setup and unlock.
	digest, salt := settings.ReadMaster(cfg.SettingsPath)
	firstRun := digest == ""

	var v *vault.Vault
	if firstRun {
		v = vault.New()
	} else {
		v, err = vault.Restore(digest, salt)
		if err != nil {
			return fmt.Errorf("restoring vault: %w", err)
		}
	}

	archive, err := store.NewSQLiteArchive(cfg.ArchivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer archive.Close()

	guard := dispatch.New()
	defer guard.Stop()

	registry := droplet.NewRegistry(
		email.NewConnector(),
		guard,
		droplet.WithArchive(archive),
		droplet.WithLogger(logger),
	)
	defer registry.Close()

	settingsStore := settings.NewStore(cfg.SettingsPath, v)

	p := tea.NewProgram(
		app.New(registry, settingsStore, v, cfg, firstRun),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running ui: %w", err)
	}
	return nil
}

// openLogger writes structured logs next to the config file. The TUI owns
// the terminal, so logs never go to stdout.
func openLogger(configPath string) logging.Logger {
	logPath := filepath.Join(filepath.Dir(configPath), "rainfeed.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return logging.Discard()
	}
	return logging.NewTextLogger(f, slog.LevelInfo)
}
