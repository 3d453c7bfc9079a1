// Command minisql starts the MiniSQL server (spec.md §6 CLI), grounded
// on the teacher's cmd/bd cobra command tree: a single root command with
// flags, a RunE that reports fatal startup errors through cobra's own
// non-zero exit, and -h/--help exiting 0 by cobra's default behavior.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/minisql/minisql/internal/server"
	"github.com/minisql/minisql/internal/serverconfig"
)

func newRootCmd() *cobra.Command {
	var (
		port     int
		dataDir  string
		user     string
		password string
		config   string
		engines  []string
	)

	cmd := &cobra.Command{
		Use:   "minisql",
		Short: "MiniSQL: a MySQL-compatible SQL server with its own engine core",
		RunE: func(cmd *cobra.Command, args []string) error {
			flagSet := map[string]interface{}{}
			if cmd.Flags().Changed("port") {
				flagSet["port"] = port
			}
			if cmd.Flags().Changed("data-dir") {
				flagSet["data_dir"] = dataDir
			}
			if cmd.Flags().Changed("user") {
				flagSet["user"] = user
			}
			if cmd.Flags().Changed("password") {
				flagSet["password"] = password
			}
			if cmd.Flags().Changed("engines") {
				flagSet["engines"] = engines
			}

			cfg, err := serverconfig.Load(config, flagSet)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
			}

			srv, err := server.Open(cfg)
			if err != nil {
				return err
			}
			defer srv.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "minisql listening on %s (data dir %s)\n", srv.Addr(), cfg.DataDir)
			return srv.Serve()
		},
	}

	defaults := serverconfig.Defaults()
	cmd.Flags().IntVarP(&port, "port", "p", defaults.Port, "TCP port to listen on")
	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", defaults.DataDir, "directory holding WAL, table data, and the catalog")
	cmd.Flags().StringVarP(&user, "user", "u", defaults.User, "default authentication user")
	cmd.Flags().StringVarP(&password, "password", "P", defaults.Password, "default authentication password")
	cmd.Flags().StringVar(&config, "config", "", "optional TOML config file (flags override its values)")
	cmd.Flags().StringSliceVar(&engines, "engines", nil, "additional storage engines to enable beyond Granite (e.g. sandstone)")

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
