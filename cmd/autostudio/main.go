// Package main provides the autostudio CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MCP-Dev-Studio/autostudio-embedded/cli"
)

var (
	// Global flags
	provider string
	addr     string
	maxIter  int
	verbose  bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	defaults := cli.DefaultOptions()

	rootCmd := &cobra.Command{
		Use:   "autostudio",
		Short: "LLM-driven embedded device control",
		Long: `Tool dispatch engine for embedded devices with an LLM controller bridge.

Two sides:
- serve: run the device side (tool registry, protocol dispatcher, transport)
- run:   connect a controller that lets an LLM drive the device's tools`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider (openai, anthropic, gemini)")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", defaults.Addr, "Device websocket address")
	rootCmd.PersistentFlags().IntVarP(&maxIter, "max-iter", "m", defaults.MaxIter, "Maximum controller iterations")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show verbose output")

	// Add commands
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(invokeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func clientOptions() cli.Options {
	return cli.Options{
		Provider: provider,
		Addr:     addr,
		MaxIter:  maxIter,
		Verbose:  verbose,
	}
}

func serveCmd() *cobra.Command {
	var stdio bool
	var simulated bool
	var profile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the device side of the protocol",
		Long: `Run the tool registry and protocol dispatcher, serving controller
connections over websocket (default) or stdio.

Configuration comes from AUTOSTUDIO_* environment variables:
- AUTOSTUDIO_LISTEN_ADDR: websocket listen address
- AUTOSTUDIO_STORE_PATH:  sqlite path for persisted tools (empty = in-memory)
- AUTOSTUDIO_LOG_LEVEL:   zerolog level`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Serve(context.Background(), cli.ServeOptions{
				Stdio:     stdio,
				Simulated: simulated,
				Profile:   profile,
				Verbose:   verbose,
			})
		},
	}

	cmd.Flags().BoolVar(&stdio, "stdio", false, "Serve protocol frames on stdin/stdout instead of websocket")
	cmd.Flags().BoolVar(&simulated, "simulated", false, "Register the simulated GPIO and sensor tools")
	cmd.Flags().StringVar(&profile, "profile", "", "Device profile file for system.getDeviceInfo")

	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Execute a task on a device through the LLM controller bridge",
		Long: `Connect to a running device, discover its tools and let the configured
LLM provider drive them until the task is answered.

The provider API key comes from the environment (OPENAI_API_KEY,
ANTHROPIC_API_KEY or GEMINI_API_KEY).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunTask(context.Background(), args[0], clientOptions())
		},
	}

	return cmd
}

func toolsCmd() *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List tools registered on a running device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListTools(context.Background(), prefix, clientOptions())
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "Only list tools whose name starts with this prefix")

	return cmd
}

func invokeCmd() *cobra.Command {
	var params string

	cmd := &cobra.Command{
		Use:   "invoke [tool]",
		Short: "Invoke a single tool on a running device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Invoke(context.Background(), args[0], params, clientOptions())
		},
	}

	cmd.Flags().StringVar(&params, "params", "", "Tool parameters as a JSON object")

	return cmd
}
