package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/mtzanidakis/meshwork/internal/config"
	"github.com/mtzanidakis/meshwork/internal/mesh"
	"github.com/mtzanidakis/meshwork/internal/store"
)

func runVault(args []string) error {
	if len(args) == 0 {
		printVaultUsage()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Vault.Passphrase == "" {
		return fmt.Errorf("MESHWORK_VAULT_PASSPHRASE environment variable is required")
	}

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	keys, err := openKeyring(cfg, db)
	if err != nil {
		return err
	}
	system, err := mesh.NewSystemStore(db, keys, cfg.AI.Model, "")
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	switch args[0] {
	case "set-key":
		return vaultSetKey(system, args[1:])
	case "show-key":
		return vaultShowKey(system)
	case "clear-key":
		return vaultClearKey(system)
	default:
		printVaultUsage()
		return fmt.Errorf("unknown vault command: %s", args[0])
	}
}

func printVaultUsage() {
	fmt.Fprintf(os.Stderr, `Usage: meshwork vault <command>

Commands:
  set-key <key>     Seal and store the AI API key
  show-key          Print the stored AI API key, masked
  clear-key         Delete the stored AI API key

Environment:
  MESHWORK_VAULT_PASSPHRASE   Required. Encryption passphrase.
`)
}

func vaultSetKey(system *mesh.SystemStore, args []string) error {
	if len(args) < 1 || strings.TrimSpace(args[0]) == "" {
		return fmt.Errorf("usage: meshwork vault set-key <key>")
	}
	if err := system.SetAPIKey(strings.TrimSpace(args[0])); err != nil {
		return err
	}
	fmt.Println("API key saved")
	return nil
}

func vaultShowKey(system *mesh.SystemStore) error {
	key, err := system.APIKey()
	if err != nil {
		return err
	}
	if key == "" {
		fmt.Println("No API key stored.")
		return nil
	}
	fmt.Println(maskKey(key))
	return nil
}

func vaultClearKey(system *mesh.SystemStore) error {
	if err := system.SetAPIKey(""); err != nil {
		return err
	}
	fmt.Println("API key deleted")
	return nil
}

// maskKey keeps the first and last four characters of long keys.
func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
