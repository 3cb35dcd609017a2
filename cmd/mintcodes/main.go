package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mahfaza/walletd/internal/store/gormstore"
	"github.com/mahfaza/walletd/pkg/wallet"
)

const (
	flagDatabaseURL = "database-url"
	flagAmount      = "amount"
	flagCount       = "count"
	flagBatch       = "batch"
	flagExpires     = "expires"

	configKeyDatabaseURL = "database_url"
)

type mintConfig struct {
	DatabaseURL string
	Amount      int64
	Count       int
	BatchID     string
	Expires     string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mintcodes: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &mintConfig{}
	cmd := &cobra.Command{
		Use:           "mintcodes",
		Short:         "Mint recharge codes and print them once",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			viper.AutomaticEnv()
			if err := viper.BindEnv(configKeyDatabaseURL, "DATABASE_URL"); err != nil {
				return err
			}
			if err := viper.BindPFlag(configKeyDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL)); err != nil {
				return err
			}
			cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
			return runMint(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, "sqlite:///tmp/walletd.db", "Database connection string")
	cmd.Flags().Int64Var(&cfg.Amount, flagAmount, 0, "Credit amount per code in minor units")
	cmd.Flags().IntVar(&cfg.Count, flagCount, 1, "Number of codes to mint")
	cmd.Flags().StringVar(&cfg.BatchID, flagBatch, "", "Batch label recorded on each code")
	cmd.Flags().StringVar(&cfg.Expires, flagExpires, "", "Expiry as RFC 3339 timestamp (empty for no expiry)")

	return cmd
}

func runMint(ctx context.Context, cfg *mintConfig) error {
	var expiresAt int64
	if cfg.Expires != "" {
		parsed, err := time.Parse(time.RFC3339, cfg.Expires)
		if err != nil {
			return fmt.Errorf("parse expires: %w", err)
		}
		expiresAt = parsed.UTC().Unix()
	}

	db, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	clock := func() int64 { return time.Now().UTC().Unix() }
	walletService, err := wallet.NewService(gormstore.New(db), clock)
	if err != nil {
		return fmt.Errorf("wallet service init: %w", err)
	}

	minted, err := walletService.MintCodes(ctx, cfg.Amount, cfg.Count, cfg.BatchID, expiresAt)
	if err != nil {
		return err
	}

	// The plaintext codes exist only in this output; the store keeps hashes.
	for _, entry := range minted {
		fmt.Printf("%s\t%s\n", entry.CodeID, entry.Code)
	}
	return nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case strings.HasPrefix(dsn, "sqlite://"):
		db, err = gorm.Open(sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), &gorm.Config{})
	default:
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db.WithContext(ctx), func() error { return sqlDB.Close() }, nil
}
