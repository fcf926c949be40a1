package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/psds-microservice/chat-router/internal/config"
	"github.com/psds-microservice/chat-router/internal/database"
	"github.com/psds-microservice/chat-router/internal/service"
	"github.com/psds-microservice/chat-router/internal/sweep"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reconciliation pass: release idle assigned conversations, close stale resolved ones",
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	conn, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}

	convSvc := service.NewConversationService(conn)
	s := sweep.New(convSvc, sweep.Config{
		Interval:     cfg.SweepInterval,
		ReleaseAfter: cfg.InactivityReleaseAfter,
		ConfirmAfter: cfg.ResolveConfirmAfter,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	s.RunOnce(ctx)
	log.Println("sweep: done")
	return nil
}
