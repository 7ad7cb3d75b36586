// Command lmaobox-context is the MCP stdio gateway for the Lmaobox Lua API:
// type and smart-context lookups, project bundling and Lua syntax checks.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// version is set at build time.
	version = "dev"

	configPath string
	logLevel   string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lmaobox-context",
	Short: "MCP stdio server for the Lmaobox Lua API",
	Long: `lmaobox-context speaks the Model Context Protocol over stdin/stdout.

It answers type and smart-context lookups from the bundled knowledge base,
runs the project bundler and checks Lua syntax with a Lua 5.4+ compiler.
Diagnostics are written to stderr; stdout carries protocol messages only.

Examples:
  # Serve over stdio (the default command)
  lmaobox-context

  # Use a config file and verbose diagnostics
  lmaobox-context serve --config lmaobox.yaml --log-level debug

  # Show which Lua compiler luacheck would use
  lmaobox-context probe`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "diagnostic log level (debug, info, warn, error); overrides config")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(versionCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP over stdin/stdout",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Resolve the Lua compiler and print it",
	Long: `Resolve the Lua compiler exactly as the luacheck tool would and print it.

Exits non-zero when no compiler meeting the minimum version is available.`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath, logLevel, cmd.ErrOrStderr())
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "lmaobox-context:", err)
		return err
	}
	if err := a.serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "lmaobox-context:", err)
		return err
	}
	return nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	a, err := newApp(configPath, logLevel, cmd.ErrOrStderr())
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "lmaobox-context:", err)
		return err
	}
	cand, err := a.probe.Resolve(cmd.Context())
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "lmaobox-context:", err)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cand)
	return nil
}
