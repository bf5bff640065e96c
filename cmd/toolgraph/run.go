package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/toolgraph/pkg/toolgraph"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/config"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/registry"
	"github.com/randalmurphal/toolgraph/pkg/toolgraph/tools/codereview"
)

func builtinTools() (*registry.Registry, error) {
	reg := registry.New()
	if err := codereview.RegisterAll(reg); err != nil {
		return nil, err
	}
	reg.Freeze()
	return reg, nil
}

// loadDefinition reads the definition file, or the built-in workflow when
// builtin is set.
func loadDefinition(args []string, builtin bool) (*toolgraph.Definition, error) {
	switch {
	case builtin && len(args) > 0:
		return nil, errors.New("pass either a definition file or --builtin, not both")
	case builtin:
		return codereview.Workflow(), nil
	case len(args) == 0:
		return nil, errors.New("a definition file is required (or --builtin)")
	}
	return toolgraph.ParseDefinitionFile(args[0])
}

func runCmd(g *globalFlags) *cobra.Command {
	var (
		builtin   bool
		statePath string
		codePath  string
		traceOnly bool
	)

	cmd := &cobra.Command{
		Use:   "run [definition-file]",
		Short: "Execute a workflow locally and print the final run",
		Long: `Execute a workflow once in-process with the built-in tools and print
the final run snapshot as JSON.

The initial state comes from --state (YAML or JSON). --code reads a
source file into the "code" key, which is what the code review tools
consume.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.load()
			if err != nil {
				return err
			}
			logger := s.Logger(cmd.ErrOrStderr())

			def, err := loadDefinition(args, builtin)
			if err != nil {
				return err
			}
			compiled, err := toolgraph.Compile(def)
			if err != nil {
				return err
			}

			initial := map[string]any{}
			if statePath != "" {
				c, err := config.FromFile(statePath)
				if err != nil {
					return fmt.Errorf("initial state: %w", err)
				}
				initial = maps.Clone(c.Raw())
			}
			if codePath != "" {
				code, err := os.ReadFile(codePath)
				if err != nil {
					return fmt.Errorf("read code: %w", err)
				}
				initial["code"] = string(code)
			}

			tools, err := builtinTools()
			if err != nil {
				return err
			}

			workflowID := def.Name
			if workflowID == "" {
				workflowID = "local"
			}
			run, err := toolgraph.NewRun(workflowID, initial)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runErr := compiled.Run(toolgraph.NewContext(ctx, toolgraph.WithLogger(logger)), run,
				toolgraph.WithRegistry(tools),
				toolgraph.WithDefaultMaxIterations(s.MaxLoopIterations),
			)

			snap := run.Snapshot()
			var out any = snap
			if traceOnly {
				out = snap.Trace
			}
			if err := writeIndented(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if runErr != nil {
				return fmt.Errorf("run %s: %w", snap.Status, runErr)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&builtin, "builtin", false, "Run the built-in code review workflow")
	cmd.Flags().StringVarP(&statePath, "state", "s", "", "Initial state file (YAML or JSON)")
	cmd.Flags().StringVar(&codePath, "code", "", "Source file loaded into the \"code\" state key")
	cmd.Flags().BoolVar(&traceOnly, "trace", false, "Print only the execution trace")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definition-file>...",
		Short: "Check workflow definitions without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tools, err := builtinTools()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				problems := validateFile(path, tools)
				if len(problems) == 0 {
					fmt.Fprintf(out, "ok    %s\n", path)
					continue
				}
				failed++
				fmt.Fprintf(out, "FAIL  %s\n", path)
				for _, p := range problems {
					fmt.Fprintf(out, "      - %s\n", p)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d definitions invalid", failed, len(args))
			}
			return nil
		},
	}
}

// validateFile compiles the definition at path and reports tools the
// registry does not provide.
func validateFile(path string, tools *registry.Registry) []string {
	def, err := toolgraph.ParseDefinitionFile(path)
	if err == nil {
		var compiled *toolgraph.Compiled
		compiled, err = toolgraph.Compile(def)
		if err == nil {
			var missing []string
			for _, name := range compiled.Tools() {
				if !tools.Has(name) {
					missing = append(missing, fmt.Sprintf("unknown tool %q", name))
				}
			}
			return missing
		}
	}

	var cfgErr *toolgraph.ConfigError
	if errors.As(err, &cfgErr) {
		problems := make([]string, 0, len(cfgErr.Problems))
		for _, p := range cfgErr.Problems {
			problems = append(problems, p.Error())
		}
		return problems
	}
	return []string{err.Error()}
}

func toolsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the built-in tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tools, err := builtinTools()
			if err != nil {
				return err
			}
			specs := tools.List()
			if asJSON {
				return writeIndented(cmd.OutOrStdout(), specs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tINPUTS\tOUTPUTS\tDESCRIPTION")
			for _, spec := range specs {
				inputs := make([]string, 0, len(spec.Inputs))
				for _, f := range spec.Inputs {
					name := f.Name
					if f.Required {
						name += "*"
					}
					inputs = append(inputs, name)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					spec.Name, strings.Join(inputs, ","), strings.Join(spec.Outputs, ","), spec.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print specs as JSON")
	return cmd
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
