package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kidandcat/teamsync/internal/auth"
	"github.com/kidandcat/teamsync/internal/db"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage members",
}

var (
	userPassword string
	userAdmin    bool
)

var userAddCmd = &cobra.Command{
	Use:   "add <id> <name>",
	Short: "Create a member",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		role := db.RoleMember
		if userAdmin {
			role = db.RoleAdmin
		}
		u, err := auth.NewManager(gw, log).Register(cmd.Context(), args[0], args[1], userPassword, role)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s) as %s\n", u.ID, u.Name, u.Role)
		return nil
	},
}

func init() {
	userAddCmd.Flags().StringVarP(&userPassword, "password", "p", "", "initial password")
	userAddCmd.Flags().BoolVar(&userAdmin, "admin", false, "grant the admin role")
	userAddCmd.MarkFlagRequired("password")
	userCmd.AddCommand(userAddCmd)
}
