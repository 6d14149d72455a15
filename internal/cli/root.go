package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the complete command tree. Running the root command
// without a subcommand runs the pipeline.
func NewRootCommand(deps Dependencies) *cobra.Command {
	version := resolvedVersion(deps.Version)

	var gf globalFlags
	var rf runFlags

	root := &cobra.Command{
		Use:           "aqimap",
		Short:         "Fetch Taiwan real-time AQI readings and render them as a map and datasets.",
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Args: cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			showVersion, _ := cmd.Flags().GetBool("version")
			if !showVersion {
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version)
			return errVersionShown
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, deps, version, &gf, &rf)
		},
	}
	root.Flags().BoolP("version", "v", false, "Show version and exit.")
	root.SetHelpCommand(&cobra.Command{Hidden: true})

	addGlobalFlags(root, &gf)
	addRunFlags(root, &rf)

	root.AddCommand(newRunCommand(deps, version, &gf))
	root.AddCommand(newServeCommand(deps, version, &gf))
	root.AddCommand(newCheckEnvCommand(&gf))

	return root
}
