package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jjestrada2/farmane/internal/db"
	"github.com/jjestrada2/farmane/internal/models"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBSeedCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the application tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Farmane config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	fmt.Fprintf(out, "Connected to %s database\n", cfg.Database.Driver)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}

func newDBSeedCmd() *cobra.Command {
	var (
		configPath string
		project    models.Project
		m          models.Map
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a project and map for local development",
		Long: `Upserts a project owned by --owner and a map inside it, so that
messages can be sent with "farmane send" without the web application.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBSeed(cmd, configPath, project, m)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Farmane config file")
	cmd.Flags().StringVar(&project.ID, "project", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&project.OwnerID, "owner", "", "owning user id (required)")
	cmd.Flags().StringVar(&project.Title, "project-title", "Local project", "project title")
	cmd.Flags().StringVar(&m.ID, "map", "", "map id (generated when empty)")
	cmd.Flags().StringVar(&m.Title, "map-title", "Untitled map", "map title")
	cmd.MarkFlagRequired("owner")
	return cmd
}

func runDBSeed(cmd *cobra.Command, configPath string, project models.Project, m models.Map) error {
	out := cmd.OutOrStdout()

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		defer sqlDB.Close()
	}

	if project.ID == "" {
		project.ID = models.NewID("P")
	}
	if m.ID == "" {
		m.ID = models.NewID("M")
	}
	if err := db.SeedProject(gormDB, project, m); err != nil {
		return err
	}
	fmt.Fprintf(out, "Project %s owned by %q\n", project.ID, project.OwnerID)
	fmt.Fprintf(out, "Map %s\n", m.ID)
	return nil
}
