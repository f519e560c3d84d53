package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mmynk/walktracker/internal/config"
	"github.com/mmynk/walktracker/pkg/logging"
)

// app carries settings shared by every subcommand. cfg is populated before
// any subcommand runs.
type app struct {
	v          *viper.Viper
	configFile string
	cfg        *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:          "walktracker",
		Short:        "Shared pet walk tracker",
		Long:         "walktracker records the dog's walks, keeps every viewer's screen in sync and reports walk statistics.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.v, a.configFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			logging.SetupFromString(cfg.Log.Level)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default ./walktracker.yaml or $HOME/.config/walktracker/walktracker.yaml)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("db", "", "path to the SQLite database")
	bindFlags(a.v, flags, map[string]string{
		"log.level": "log-level",
		"db.path":   "db",
	})

	serve := serveCommand(a)
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(
		serve,
		statsCommand(a),
		tokenCommand(a),
		watchCommand(a),
	)
	return root
}

// bindFlags binds config keys to flags so that a flag set on the command line
// overrides the file and environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}
}
