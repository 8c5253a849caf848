package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "0.3.0"

	configPath string
	devMode    bool
)

func main() {
	root := &cobra.Command{
		Use:   "conductor",
		Short: "Agent task lifecycle orchestration service",
		Long: `conductor runs background agent tasks: it admits and registers
submissions, executes them on a backend, mirrors progress into workspace
blocks and chat rooms, and handles cancel/pause/resume control signals.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default searches ./conductor.yaml, $HOME/conductor.yaml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the conductor HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "run with in-memory collaborators instead of remote services")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the conductor version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("conductor %s\n", version)
		},
	}

	root.AddCommand(serveCmd)
	root.AddCommand(versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// discoverConfigPath resolves the config file to load. An explicit --config
// wins; otherwise viper searches the working directory and $HOME.
func discoverConfigPath() string {
	if configPath != "" {
		return configPath
	}
	viper.SetConfigName("conductor")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME")
	if err := viper.ReadInConfig(); err != nil {
		return ""
	}
	return viper.ConfigFileUsed()
}
