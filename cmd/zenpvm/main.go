package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "zenpvm",
	Short: "ZenPvm is a process virtual machine",
	Long:  `ZenPvm runs process definitions written in YAML and keeps their runtime state and history in a database.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
