package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kidandcat/teamsync/internal/db"
)

// dump is the export document. Password hashes and sessions are left out.
type dump struct {
	Users      []db.User          `json:"users"`
	Folders    []db.Folder        `json:"folders"`
	Docs       []db.Document      `json:"docs"`
	Tasks      []db.Task          `json:"tasks"`
	Schedules  []db.ScheduleEvent `json:"schedules"`
	Activities []db.Activity      `json:"activities"`
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every collection to stdout as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg.Log)

		gw, err := db.Open(cmd.Context(), cfg, db.Options{Logger: log})
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer gw.Close()

		var d dump
		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() (err error) { d.Users, err = gw.Users.List(ctx); return })
		g.Go(func() (err error) { d.Folders, err = gw.Folders.List(ctx); return })
		g.Go(func() (err error) { d.Docs, err = gw.Docs.List(ctx); return })
		g.Go(func() (err error) { d.Tasks, err = gw.Tasks.List(ctx); return })
		g.Go(func() (err error) { d.Schedules, err = gw.Schedules.List(ctx); return })
		g.Go(func() (err error) { d.Activities, err = gw.Activities.List(ctx); return })
		if err := g.Wait(); err != nil {
			return fmt.Errorf("export: %w", err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	},
}
