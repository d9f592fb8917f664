package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/digcoord/digcoord"
)

var version = digcoord.Version

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the digcoord version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("digcoord %s\n", version)
	},
}
