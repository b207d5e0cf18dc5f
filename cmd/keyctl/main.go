// Command keyctl manages API keys from the operator's shell.
//
//	keyctl issue -name NAME [-owner EMAIL] [-limit N]
//	keyctl show -name NAME
//	keyctl token [-subject NAME] [-ttl 1h]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/coin-market-api/internal/config"
	"github.com/akagifreeez/coin-market-api/internal/handlers"
	"github.com/akagifreeez/coin-market-api/internal/models"
	"github.com/akagifreeez/coin-market-api/internal/services"
	"github.com/akagifreeez/coin-market-api/internal/store"
	"github.com/akagifreeez/coin-market-api/pkg/crypto"
	"github.com/akagifreeez/coin-market-api/pkg/database"
)

const usage = `usage:
  keyctl issue -name NAME [-owner EMAIL] [-limit N]
  keyctl show  -name NAME
  keyctl token [-subject NAME] [-ttl 1h]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg.SetupLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	args := os.Args[2:]
	switch os.Args[1] {
	case "issue":
		err = runIssue(ctx, cfg, args, os.Stdout)
	case "show":
		err = runShow(ctx, cfg, args, os.Stdout)
	case "token":
		err = runToken(cfg, args, os.Stdout)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "keyctl %s: %v\n", os.Args[1], err)
		if errors.Is(err, models.ErrInvalidInput) || errors.Is(err, models.ErrDuplicateName) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func runIssue(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	name := fs.String("name", "", "key name (required)")
	owner := fs.String("owner", "", "owner contact, stored encrypted")
	limit := fs.Int64("limit", cfg.DefaultDailyLimit, "requests per day")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return fmt.Errorf("%w: limit must be positive", models.ErrInvalidInput)
	}

	keys, closeDB, err := keyService(ctx, cfg, *limit)
	if err != nil {
		return err
	}
	defer closeDB()

	issued, err := keys.Issue(ctx, *name, *owner)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "key_name: %s\napi_key:  %s\n", issued.Name, issued.Secret)
	fmt.Fprintln(out, "The api_key is shown once. Store it now.")
	return nil
}

func runShow(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	name := fs.String("name", "", "key name (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	sealer, err := crypto.NewSealer(cfg.EncryptionKey)
	if err != nil {
		return err
	}

	keyStore := store.NewAPIKeyStore(db.Pool)
	key, err := keyStore.Get(ctx, *name)
	if err != nil {
		return err
	}
	owner, err := services.NewKeyService(keyStore, sealer, cfg.DefaultDailyLimit).Owner(ctx, *name)
	if err != nil {
		return err
	}

	last := "never"
	if key.LastRequestAt != nil {
		last = key.LastRequestAt.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(out, "key_name:     %s\nactive:       %t\nused today:   %d/%d\nlast request: %s\nowner:        %s\ncreated:      %s\n",
		key.Name, key.IsActive, key.RequestsMadeToday, key.DailyLimit, last, owner, key.CreatedAt.UTC().Format(time.RFC3339))
	return nil
}

func runToken(cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "keyctl", "token subject")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if *ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive", models.ErrInvalidInput)
	}

	token, err := handlers.IssueAdminToken([]byte(cfg.JWTSecret), *subject, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func keyService(ctx context.Context, cfg *config.Config, limit int64) (*services.KeyService, func(), error) {
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	sealer, err := crypto.NewSealer(cfg.EncryptionKey)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	return services.NewKeyService(store.NewAPIKeyStore(db.Pool), sealer, limit), db.Close, nil
}
