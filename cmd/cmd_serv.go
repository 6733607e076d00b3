package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/querygate/querygate/serv"
)

// servCmd is the cobra CLI command for the serve subcommand
func servCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"serv"},
		Short:   "Run the QueryGate service",
		Run:     cmdServ,
	}
}

// cmdServ is the handler for the serve subcommand
func cmdServ(*cobra.Command, []string) {
	setup(cpath)

	qg, err := serv.NewService(context.Background(), conf)
	if err != nil {
		log.Fatalf("%s", err)
	}

	if err := qg.Start(); err != nil {
		log.Fatalf("%s", err)
	}
}
