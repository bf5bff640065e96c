// Command toolgraph serves and runs tool-calling workflow graphs.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/toolgraph/internal/settings"
)

// Set at build time with -ldflags "-X main.Version=...".
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "toolgraph"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	envFile    string
	configFile string
}

func (g *globalFlags) load() (*settings.Settings, error) {
	return settings.Load(settings.Options{
		EnvFile:        g.envFile,
		RequireEnvFile: g.envFile != ".env",
		ConfigFile:     g.configFile,
	})
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Tool-calling workflow graph engine",
		Long: `toolgraph executes workflow graphs whose nodes invoke registered tools
over a shared state, with loops bounded by exit conditions and an
inspectable execution trace.

Settings come from defaults, an optional settings file, an optional
.env file and the environment, later sources winning.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "Dotenv file to load (ignored when the default is missing)")
	cmd.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "Settings file path (YAML or JSON)")

	cmd.AddCommand(
		serveCmd(g),
		runCmd(g),
		validateCmd(),
		toolsCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)
	return cmd
}
