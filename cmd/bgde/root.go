package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bgde/vocab-platform/internal/app"
	"github.com/bgde/vocab-platform/pkg/config"
	"github.com/bgde/vocab-platform/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type cli struct {
	configPath string
	envPath    string
	verbose    bool
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "bgde",
		Short:         "Bulgarian-German vocabulary search and spaced repetition",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(c.envPath); err != nil && c.verbose {
				fmt.Fprintf(os.Stderr, "warning: not loading %s: %v\n", c.envPath, err)
			}
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			if c.verbose {
				cfg.Logging.Level = "debug"
			}
			logger.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv("BGDE_CONFIG"), "path to YAML config file")
	root.PersistentFlags().StringVar(&c.envPath, "env", ".env", "path to .env file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newServeCmd(c),
		newSearchCmd(c),
		newImportCmd(c),
		newPhasesCmd(c),
		newResetCmd(c),
		newSyncCmd(c),
		newVersionCmd(),
	)
	return root
}

// openApp builds an App without network services or content.
func (c *cli) openApp(ctx context.Context) (*app.App, error) {
	return app.New(ctx, c.cfg, app.Options{})
}

// loadApp is openApp followed by a full content load.
func (c *cli) loadApp(ctx context.Context) (*app.App, error) {
	a, err := c.openApp(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := a.Reload(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}
