package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pagespace/internal/app"
	"pagespace/internal/search"
	"pagespace/internal/siem"
	"pagespace/internal/store"
	"pagespace/internal/vault"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Push every live page into Meilisearch",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if strings.TrimSpace(cfg.MeiliURL) == "" {
			return fmt.Errorf("MEILI_URL is not set")
		}
		logger := newLogger()
		defer func() { _ = logger.Sync() }()

		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()

		start := time.Now()
		count, err := search.NewService(meili, search.NewPgFTS(db), logger).Reindex(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d pages in %s\n", count, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var siemCmd = &cobra.Command{
	Use:   "siem",
	Short: "Inspect SIEM destinations",
}

var siemTestCmd = &cobra.Command{
	Use:   "test <destination-id>",
	Short: "Send one synthetic event to an enabled destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		defer func() { _ = logger.Sync() }()

		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		source := app.NewDestinationSource(store.NewPostgresStore(db), nil, logger)
		if cfg.SecretKey != "" {
			secrets, err := vault.NewFromHex(cfg.SecretKey)
			if err != nil {
				return fmt.Errorf("invalid PAGESPACE_SECRET_KEY: %w", err)
			}
			source = app.NewDestinationSource(store.NewPostgresStore(db), secrets, logger)
		}

		destinations, err := source.EnabledDestinations(cmd.Context())
		if err != nil {
			return err
		}
		for _, dest := range destinations {
			if dest.ID != args[0] {
				continue
			}
			forwarder := siem.NewForwarder(siem.Config{}, source, logger)
			if err := forwarder.Test(cmd.Context(), dest, "workspacectl"); err != nil {
				logger.Warn("siem test failed", zap.String("destination_id", dest.ID), zap.Error(err))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "delivered test event to %s (%s %s)\n", dest.Name, dest.Kind, dest.Endpoint)
			return nil
		}
		return fmt.Errorf("destination %s not found or disabled", args[0])
	},
}
