package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/formwise-ai/advisor/internal/agent/model"
	"github.com/formwise-ai/advisor/internal/agent/repo"
	logx "github.com/formwise-ai/advisor/pkg/logger"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create a business with the starter formation checklist",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		b := model.Business{Status: "forming"}
		b.UserID, _ = cmd.Flags().GetString("user")
		b.Name, _ = cmd.Flags().GetString("name")
		b.Type, _ = cmd.Flags().GetString("type")
		b.State, _ = cmd.Flags().GetString("state")

		db, err := cfg.SQLite.New(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		r, err := repo.NewSQLiteBusinessRepository(cmd.Context(), db)
		if err != nil {
			return err
		}
		created, tasks, err := repo.Seed(cmd.Context(), r, b)
		if err != nil {
			return err
		}

		logx.Info().Str("business_id", created.ID).Int("tasks", len(tasks)).Msg("business seeded")
		fmt.Fprintf(cmd.OutOrStdout(), "business %s (%s) for user %s\n", created.ID, created.Name, created.UserID)
		for _, t := range tasks {
			fmt.Fprintf(cmd.OutOrStdout(), "  [ ] %s\n", t.Title)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().String("user", "", "Owner user ID")
	seedCmd.Flags().String("name", "", "Business name")
	seedCmd.Flags().String("type", "LLC", "Entity type")
	seedCmd.Flags().String("state", "", "State of formation")
	_ = seedCmd.MarkFlagRequired("user")
}
