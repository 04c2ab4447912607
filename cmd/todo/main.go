package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"esther/internal/client"
	"esther/internal/config"
	"esther/internal/logging"
)

// app carries what every subcommand needs once the config is loaded.
type app struct {
	fs         afero.Fs
	configPath string
	cfg        config.Config
	log        *log.Logger
	logCloser  io.Closer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(afero.NewOsFs()).ExecuteContext(ctx); err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(fs afero.Fs) *cobra.Command {
	a := &app{fs: fs}
	var envFile string

	root := &cobra.Command{
		Use:           "todo",
		Short:         "Todo lists server and terminal client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			return a.load(cmd.Name() == "todo" || cmd.Name() == "ui")
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logCloser != nil {
				a.logCloser.Close()
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runUI(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: user config dir)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(
		newUICmd(a),
		newServeCmd(a),
		newLoginCmd(a),
		newUserAddCmd(a),
		newExportCmd(a),
	)
	return root
}

// load reads the config and builds the logger. The terminal UI owns the
// screen, so its logs go to a file unless one is configured.
func (a *app) load(interactive bool) error {
	if a.configPath == "" {
		a.configPath = config.ResolveConfigPath()
	}
	cfg, err := config.LoadOrCreate(a.fs, a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	opts := logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}
	if interactive && opts.File == "" {
		opts.File = filepath.Join(filepath.Dir(a.configPath), "todo.log")
	}
	a.log, a.logCloser = logging.New(opts)
	return nil
}

func (a *app) save() error {
	return config.Save(a.fs, a.configPath, a.cfg)
}

func (a *app) client(token string) (*client.Client, error) {
	return client.New(a.cfg.Client.BaseURL,
		client.WithToken(token),
		client.WithTimeout(time.Duration(a.cfg.Client.TimeoutSeconds)*time.Second),
		client.WithLogger(a.log.WithPrefix("client")),
	)
}
