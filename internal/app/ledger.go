package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"zipdaemon/internal/config"
	"zipdaemon/internal/database"
	"zipdaemon/internal/encryption"
	"zipdaemon/internal/vault"
	"zipdaemon/internal/zipd"
)

// ErrLedgerDisabled is returned when history is requested but the config
// turns the ledger off.
var ErrLedgerDisabled = errors.New("ledger is disabled (database.type = \"none\")")

// ErrVaultDisabled is returned by vault commands when no vault is configured.
var ErrVaultDisabled = errors.New("no vault configured")

// OpenLedger opens the configured ledger for read-only commands.
func OpenLedger(cfg *config.Config) (zipd.Ledger, error) {
	l, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if l == nil {
		return nil, ErrLedgerDisabled
	}
	return l, nil
}

// FetchArchive copies the vault object stored under key to w. Keys ending
// in ".age" are decrypted with the private key unlocked by passphrase.
func FetchArchive(ctx context.Context, cfg *config.Config, key, passphrase string, w io.Writer) error {
	v, err := vault.NewVaultFromConfig(ctx, cfg.Vault)
	if err != nil {
		return fmt.Errorf("creating vault: %w", err)
	}
	if v == nil {
		return ErrVaultDisabled
	}

	if !strings.HasSuffix(key, ".age") {
		return v.GetArchive(ctx, key, w)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc == nil {
		return fmt.Errorf("%s is encrypted but encryption is not configured", key)
	}
	dc, err := enc.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}

	pr, pw := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		err := v.GetArchive(ctx, key, pw)
		pw.CloseWithError(err)
		errCh <- err
	}()

	decErr := dc.Decrypt(pr, w)
	pr.Close()
	if getErr := <-errCh; getErr != nil && !errors.Is(getErr, io.ErrClosedPipe) {
		return getErr
	}
	if decErr != nil {
		return fmt.Errorf("decrypting %s: %w", key, decErr)
	}
	return nil
}

// SetupKeys generates the age key pair named by cfg.Encryption.
func SetupKeys(cfg *config.Config, passphrase string) error {
	e := encryption.NewAgeEncryptor(cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
	if err := e.Setup(passphrase); err != nil {
		return fmt.Errorf("generating keys: %w", err)
	}
	return nil
}
