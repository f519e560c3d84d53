package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmynk/walktracker/internal/auth"
	"github.com/mmynk/walktracker/internal/client"
	"github.com/mmynk/walktracker/internal/config"
	"github.com/mmynk/walktracker/internal/live"
	"github.com/mmynk/walktracker/internal/models"
	"github.com/mmynk/walktracker/internal/service"
	"github.com/mmynk/walktracker/internal/storage/sqlite"
)

func statsCommand(a *app) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the walk stats report as JSON",
		Long: `Stats computes the report over the configured window, either from the local
database or, with --remote, from a running server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), a.cfg, remote, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "ask the server at client.server instead of reading the database")
	cmd.Flags().Int("days", 0, "window length in days")
	cmd.Flags().String("tz", "", "IANA time zone for day boundaries")
	bindFlags(a.v, cmd.Flags(), map[string]string{
		"stats.window_days": "days",
		"stats.timezone":    "tz",
	})
	return cmd
}

func runStats(ctx context.Context, cfg *config.Config, remote bool, out io.Writer) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	if remote {
		c := client.New(cfg.Client.Server, client.WithToken(cfg.Client.Token))
		report, err := c.Stats(ctx, cfg.Stats.WindowDays, cfg.Stats.TimeZone)
		if err != nil {
			return fmt.Errorf("failed to fetch stats: %w", err)
		}
		return enc.Encode(report)
	}

	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	svc := service.NewStatsService(store, service.WithStatsWindow(cfg.Stats.WindowDays, cfg.Location()))
	report, err := svc.Report(ctx, service.ReportQuery{})
	if err != nil {
		return err
	}
	return enc.Encode(report)
}

func tokenCommand(a *app) *cobra.Command {
	var user models.User
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token for a walker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Auth.Secret == "" {
				return fmt.Errorf("auth.secret must be set to sign tokens")
			}
			token, err := auth.NewJWTManager(a.cfg.Auth.Secret, a.cfg.Auth.TokenTTL).Generate(user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user.Email, "email", "", "walker email (required)")
	cmd.Flags().StringVar(&user.Name, "name", "", "display name")
	cmd.Flags().StringVar(&user.Image, "picture", "", "avatar URL")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func watchCommand(a *app) *cobra.Command {
	var viewer string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the active walk on a running server",
		Long: `Watch keeps a live view of the server and prints an announcement whenever a
walk starts, a walker joins, a walk ends or the connection changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), a.cfg, viewer, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&viewer, "viewer", "", "email of the person watching, for personal messages")
	cmd.Flags().String("server", "", "server base URL")
	cmd.Flags().String("token", "", "bearer token")
	bindFlags(a.v, cmd.Flags(), map[string]string{
		"client.server": "server",
		"client.token":  "token",
	})
	return cmd
}

func runWatch(ctx context.Context, cfg *config.Config, viewer string, out io.Writer) error {
	c := client.New(cfg.Client.Server, client.WithToken(cfg.Client.Token))
	ch := live.New(c, c, live.WithBackoff(live.BackoffConfig{
		Initial:    cfg.Live.Backoff.Initial,
		Max:        cfg.Live.Backoff.Max,
		MaxElapsed: cfg.Live.Backoff.MaxElapsed,
	}))
	if err := ch.Connect(ctx); err != nil {
		return err
	}
	defer ch.Close()

	var prev live.Snapshot
	greeted := false
	unsubscribe := ch.Subscribe(func(next live.Snapshot) {
		stamp := time.Now().Format(time.Kitchen)
		if !greeted && next.Connected {
			greeted = true
			g := live.Greet(next, viewer)
			fmt.Fprintf(out, "%s  %s %s\n", stamp, g.Message, g.Description)
		} else {
			for _, ev := range live.Diff(prev, next) {
				fmt.Fprintf(out, "%s  %s\n", stamp, ev.Message(viewer))
			}
		}
		prev = next
	})
	defer unsubscribe()

	slog.Info("Watching", "server", cfg.Client.Server)
	<-ctx.Done()
	return nil
}

