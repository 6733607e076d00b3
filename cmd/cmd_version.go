package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// versionCmd prints the build details
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "QueryGate binary version information",
		Run: func(*cobra.Command, []string) {
			fmt.Println(BuildDetails())
		},
	}
}

// BuildDetails returns the version and build information
func BuildDetails() string {
	if version == "" {
		return `
QueryGate (unknown version)
For documentation, visit https://github.com/querygate/querygate

To build with version information please use the Makefile
`
	}

	return fmt.Sprintf(`
QueryGate %v
For documentation, visit https://github.com/querygate/querygate

Commit SHA-1          : %v
Commit timestamp      : %v
Go version            : %v

Licensed under the Apache Public License 2.0
Copyright 2026, QueryGate contributors
`, version, commit, date, runtime.Version())
}
