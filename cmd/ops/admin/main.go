// Package main implements the LodgeMail operator CLI. It provisions API
// keys and tenant notification settings directly against the database and
// is run by a human operator, not deployed.
//
// Usage:
//
//	go run ./cmd/ops/admin apikey-create --tenant=tnt_1 --name="partner portal"
//	go run ./cmd/ops/admin apikey-revoke --id=4f6d2a1b9c0e8f37
//	go run ./cmd/ops/admin tenant-set --tenant=tnt_1 --primary=owner@example.com --additional=ops@example.com,billing@example.com
//
// apikey-create prints the full key exactly once; only a bcrypt hash of
// the secret is stored.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"lodgemail/internal/config"
	"lodgemail/internal/db"
	"lodgemail/internal/types"
)

const (
	// keyIDBytes sizes the public key identifier.
	keyIDBytes = 8

	// keySecretBytes sizes the secret portion. 24 bytes of entropy,
	// hex-encoded to 48 characters.
	keySecretBytes = 24
)

// KeyStore is the API key persistence the CLI depends on.
type KeyStore interface {
	Create(ctx context.Context, key *db.APIKey) error
	Revoke(ctx context.Context, id string, at time.Time) error
}

// SettingsStore is the tenant settings persistence the CLI depends on.
type SettingsStore interface {
	UpsertSettings(ctx context.Context, settings *types.TenantSettings) error
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	switch os.Args[1] {
	case "apikey-create":
		fs := flag.NewFlagSet("apikey-create", flag.ExitOnError)
		tenant := fs.String("tenant", "", "Tenant the key belongs to [required]")
		name := fs.String("name", "", "Human-readable key label")
		_ = fs.Parse(os.Args[2:])
		err = runAPIKeyCreate(ctx, db.NewAPIKeyRepository(pool), os.Stdout, *tenant, *name)
	case "apikey-revoke":
		fs := flag.NewFlagSet("apikey-revoke", flag.ExitOnError)
		id := fs.String("id", "", "Public ID of the key to revoke [required]")
		_ = fs.Parse(os.Args[2:])
		err = runAPIKeyRevoke(ctx, db.NewAPIKeyRepository(pool), os.Stdout, *id)
	case "tenant-set":
		fs := flag.NewFlagSet("tenant-set", flag.ExitOnError)
		tenant := fs.String("tenant", "", "Tenant to configure [required]")
		primary := fs.String("primary", "", "Primary notification address")
		additional := fs.String("additional", "", "Comma-separated additional addresses")
		_ = fs.Parse(os.Args[2:])
		err = runTenantSet(ctx, db.NewTenantRepository(pool), os.Stdout, *tenant, *primary, splitEmails(*additional))
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "LodgeMail Admin Tool\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  apikey-create --tenant=ID [--name=LABEL]\n")
	fmt.Fprintf(os.Stderr, "  apikey-revoke --id=KEYID\n")
	fmt.Fprintf(os.Stderr, "  tenant-set    --tenant=ID [--primary=ADDR] [--additional=ADDR,ADDR]\n")
}

// runAPIKeyCreate mints a new API key for a tenant and prints the full
// presented key to out. The secret never reaches the logger or the store.
func runAPIKeyCreate(ctx context.Context, store KeyStore, out io.Writer, tenantID, name string) error {
	if tenantID == "" {
		return fmt.Errorf("--tenant is required")
	}

	presented, id, err := mintAPIKey(ctx, store, tenantID, name)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "API key created for tenant %s (id %s).\n", tenantID, id)
	fmt.Fprintf(out, "The full key is shown once; store it now:\n\n")
	fmt.Fprintf(out, "  %s\n", presented)
	return nil
}

// mintAPIKey generates the id and secret, stores a bcrypt hash of the
// secret, and returns the presented key "lm_<id>_<secret>" and the id.
func mintAPIKey(ctx context.Context, store KeyStore, tenantID, name string) (string, string, error) {
	id, err := randomHex(keyIDBytes)
	if err != nil {
		return "", "", err
	}
	secret, err := randomHex(keySecretBytes)
	if err != nil {
		return "", "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hashing key secret: %w", err)
	}

	if err := store.Create(ctx, &db.APIKey{
		ID:       id,
		TenantID: tenantID,
		Name:     name,
		KeyHash:  hash,
	}); err != nil {
		return "", "", err
	}

	return "lm_" + id + "_" + secret, id, nil
}

func runAPIKeyRevoke(ctx context.Context, store KeyStore, out io.Writer, id string) error {
	if id == "" {
		return fmt.Errorf("--id is required")
	}
	if err := store.Revoke(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	fmt.Fprintf(out, "API key %s revoked.\n", id)
	return nil
}

// runTenantSet replaces a tenant's notification settings. Addresses are
// structurally validated before anything is written.
func runTenantSet(ctx context.Context, store SettingsStore, out io.Writer, tenantID, primary string, additional []string) error {
	if tenantID == "" {
		return fmt.Errorf("--tenant is required")
	}
	if primary != "" && !types.ValidEmail(primary) {
		return fmt.Errorf("invalid primary address: %s", primary)
	}
	for _, addr := range additional {
		if !types.ValidEmail(addr) {
			return fmt.Errorf("invalid additional address: %s", addr)
		}
	}

	if err := store.UpsertSettings(ctx, &types.TenantSettings{
		TenantID:         tenantID,
		PrimaryEmail:     primary,
		AdditionalEmails: additional,
	}); err != nil {
		return err
	}

	fmt.Fprintf(out, "Settings updated for tenant %s (primary=%s, additional=%d).\n",
		tenantID, primary, len(additional))
	return nil
}

// splitEmails parses a comma-separated address list, trimming whitespace
// and dropping empty entries.
func splitEmails(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// randomHex returns n cryptographically random bytes hex-encoded.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
