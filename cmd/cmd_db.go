package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/querygate/querygate/serv"
)

// dbCmd creates the db command
func dbCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "db",
		Short: "Request store management commands",
	}

	c.AddCommand(&cobra.Command{
		Use:   "setup",
		Short: "Create the request store tables",
		Run:   cmdDBSetup,
	})

	return c
}

// cmdDBSetup creates the request store schema
func cmdDBSetup(cmd *cobra.Command, args []string) {
	setup(cpath)

	qg, err := serv.NewService(context.Background(), conf)
	if err != nil {
		log.Fatalf("%s", err)
	}

	if err := qg.Migrate(context.Background()); err != nil {
		log.Fatalf("failed to set up request store: %s", err)
	}
	log.Info("request store ready")
}
