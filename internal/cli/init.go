package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/converge/internal/config"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write the default configuration to converge.yaml, or to the file named
by --config. An existing file is never overwritten.

Example:
  converge init
  converge init --config /etc/converge/converge.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.ConfigFile
			if path == "" {
				path = config.DefaultFile
			}
			if err := config.WriteDefault(path); err != nil {
				return WrapExitError(ExitCommandError, "failed to write config", err)
			}
			out := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return out.Success(fmt.Sprintf("Wrote %s", path))
		},
	}
}
