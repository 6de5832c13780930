// Command payappctl administers a pay application engine database from the
// command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

type globalFlags struct {
	configPath string
	userID     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "payappctl",
		Short:         "Administer pay applications, ledgers and certificates",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "configs/config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&flags.userID, "as", "", "user ID to act as")

	rootCmd.AddCommand(migrateCmd(flags))
	rootCmd.AddCommand(usersCmd(flags))
	rootCmd.AddCommand(projectsCmd(flags))
	rootCmd.AddCommand(summaryCmd(flags))
	rootCmd.AddCommand(historyCmd(flags))
	rootCmd.AddCommand(certificateCmd(flags))

	return rootCmd
}
