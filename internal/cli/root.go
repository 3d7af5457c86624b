package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lazypower/chronicle/internal/config"
	"github.com/lazypower/chronicle/internal/crypto"
	"github.com/lazypower/chronicle/internal/embedding"
	"github.com/lazypower/chronicle/internal/logger"
	"github.com/lazypower/chronicle/internal/store"
)

const rootLongDesc = `Chronicle keeps an encrypted, temporally versioned store of facts about a
user and their work, and ranks them together with long-term memories into
prompt-ready context.

Configuration is read from config.toml in the config dir (default ~/.chronicle),
then CHRONICLE_* environment variables, then flags. A .env file in the working
directory is loaded first. The encryption key is a 32-byte hex string taken
from $CHRONICLE_KEY (see "chronicle keygen").`

// app is the state shared by every subcommand, resolved before each run.
type app struct {
	configDir string

	v   *viper.Viper
	cfg *config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:               "chronicle",
		Short:             "Encrypted temporal fact store with context ranking",
		Long:              rootLongDesc,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	f := cmd.PersistentFlags()
	f.StringVar(&a.configDir, "config-dir", "", "directory holding config.toml (default ~/.chronicle)")
	f.String("db", "", "database path (overrides database.path and $CHRONICLE_DB)")
	f.Bool("debug", false, "enable debug logging")
	f.Bool("json-logs", false, "log as JSON")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newKeygenCmd())
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newFactCmd(a))
	cmd.AddCommand(newImportCmd(a))
	cmd.AddCommand(newContextCmd(a))
	cmd.AddCommand(newStatsCmd(a))
	return cmd
}

func Execute() error {
	return newRootCmd().Execute()
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	v, err := config.NewViper(a.configDir)
	if err != nil {
		return err
	}
	// CHRONICLE_DB is the short form kept for scripts.
	if err := v.BindEnv("database.path", "CHRONICLE_DATABASE_PATH", "CHRONICLE_DB"); err != nil {
		return err
	}
	flags := cmd.Root().PersistentFlags()
	for key, name := range map[string]string{
		"database.path": "db",
		"log.debug":     "debug",
		"log.json":      "json-logs",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	a.v, a.cfg = v, cfg
	a.log = logger.New(
		logger.WithDebug(cfg.Log.Debug),
		logger.WithJSON(cfg.Log.JSON),
		logger.WithPretty(cfg.Log.Pretty),
		logger.WithWriter(cmd.ErrOrStderr()),
	)
	return nil
}

// dbPath resolves the configured database path.
func (a *app) dbPath() (string, error) {
	if a.cfg.Database.Path != "" {
		return a.cfg.Database.Path, nil
	}
	return store.DefaultDBPath()
}

// openDB opens the database for CLI commands.
func (a *app) openDB() (*store.DB, error) {
	path, err := a.dbPath()
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}
	db, err := store.Open(path, store.WithLogger(a.log))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.log.Debug("database opened", "path", path)
	return db, nil
}

func (a *app) key() (crypto.Key, error) {
	return crypto.LoadKey(a.cfg.Encryption.KeyEnv, a.cfg.Encryption.KeyFile)
}

// scorer returns the configured similarity scorer, or nil when disabled.
func (a *app) scorer(ctx context.Context) embedding.Scorer {
	e := a.cfg.Embedding
	return embedding.NewScorer(ctx, e.Provider, e.OllamaURL, e.Model, e.Dimensions, a.log)
}
