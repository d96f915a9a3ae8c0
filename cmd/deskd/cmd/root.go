package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmcleod/deskd/internal/util"
	"github.com/jmcleod/deskd/session"
	bboltstorage "github.com/jmcleod/deskd/storage/bbolt"
	"github.com/jmcleod/deskd/vault"
)

var (
	apiURL  string
	dataDir string
)

var rootCmd = &cobra.Command{
	Use:   "deskd",
	Short: "deskd is a terminal client for the ticket desk",
	Long: `A terminal client for the ticket-management API: log in, inspect your
session, and work with tickets. Credentials are persisted encrypted under
the data directory and refreshed automatically when they expire.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	defaultDataDir := ""
	if cfg, err := os.UserConfigDir(); err == nil {
		defaultDataDir = filepath.Join(cfg, "deskd")
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("DESKD_API", "http://localhost:8000/"), "base URL of the ticket API")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir, "directory for persisted credentials")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// openSession builds the session manager over the on-disk vault and resolves
// the persisted session. The returned closer releases the credential store.
func openSession(ctx context.Context) (*session.Manager, func(), error) {
	if dataDir == "" {
		return nil, nil, fmt.Errorf("no data directory; pass --data-dir")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := bboltstorage.Open(filepath.Join(dataDir, "credentials.db"), nil)
	if err != nil {
		return nil, nil, err
	}

	secret, err := loadOrCreateSecret(filepath.Join(dataDir, "secret"))
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	v, err := vault.New(secret, store)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	m, err := session.New(v, apiURL, session.WithNotifier(func(msg string) {
		fmt.Fprintln(os.Stderr, msg)
	}))
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	if err := m.Initialize(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("initializing session: %w", err)
	}
	return m, func() { _ = store.Close() }, nil
}

// loadOrCreateSecret reads the per-install vault secret, generating one on
// first use. The secret only obfuscates tokens at rest; anyone with access
// to the data directory can recover them.
func loadOrCreateSecret(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	if err == nil && len(secret) > 0 {
		return secret, nil
	}
	secret, err = util.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, fmt.Errorf("writing vault secret: %w", err)
	}
	return secret, nil
}
