package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pulsar/internal/config"
	"pulsar/internal/debuglog"
)

// rootOptions carries the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	home       string
	debug      bool
}

func main() {
	if err := newRootCommand(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "pulsar-node",
		Short: "pulsar route-scoped messaging node",
		Long: `pulsar-node runs one node of a route-scoped peer-to-peer mesh. Nodes find
each other through a rendezvous node, keep their peers alive with periodic
pings and exchange encrypted messages over UDP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.debug {
				debuglog.SetDebug(true)
			}
		},
	}
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default <home>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.home, "home", "", "node home directory (default ~/.pulsar)")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newKeygenCommand(opts))
	rootCmd.AddCommand(newStatusCommand(opts))
	return rootCmd
}

func (o *rootOptions) homeDir() string {
	if o.home != "" {
		return o.home
	}
	return config.HomeDir()
}

func (o *rootOptions) metricsPath() string {
	return filepath.Join(o.homeDir(), "metrics.json")
}

// loadConfig reads the config file; keys live in the home directory unless
// the file names another key_dir.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = filepath.Join(o.homeDir(), "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if o.home != "" && cfg.KeyDir == config.HomeDir() {
		cfg.KeyDir = o.home
	}
	return cfg, nil
}
