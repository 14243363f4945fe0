package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kidandcat/teamsync/internal/db"
	"github.com/kidandcat/teamsync/internal/seed"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load fixture data into storage",
	Long:  "Load users, folders, documents, tasks and schedules from a YAML file.\nWithout --file the configured seed (or the built-in demo) is used.\nRecords that already exist are left untouched.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg.Log)

		path := cfg.Seed
		if seedFile != "" {
			path = seedFile
		}
		fx, err := seed.FromFile(path)
		if err != nil {
			return err
		}

		gw, err := db.Open(cmd.Context(), cfg, db.Options{Logger: log})
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer gw.Close()

		res, err := seed.Apply(cmd.Context(), gw, fx, time.Now(), log)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d users, %d folders, %d docs, %d tasks, %d schedules\n",
			res.Users, res.Folders, res.Docs, res.Tasks, res.Schedules)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "YAML fixture file")
}
