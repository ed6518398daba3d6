package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanidx/internal/indexers"
	"github.com/Aman-CERP/amanidx/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var (
		jsonOutput  bool
		shortOutput bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print version information including git commit, build date, Go version and the schema version of every built-in indexer.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if shortOutput {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Short())
				return err
			}

			builtins, err := builtinVersions()
			if err != nil {
				return err
			}
			info := version.GetInfo(builtins...)

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), info.Text())
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	cmd.Flags().BoolVar(&shortOutput, "short", false, "Output only the version number")

	return cmd
}

func builtinVersions() ([]version.Component, error) {
	factories, err := indexers.Builtin(indexers.Names(), slog.Default())
	if err != nil {
		return nil, err
	}
	out := make([]version.Component, len(factories))
	for i, f := range factories {
		out[i] = version.Component{Name: f.Name(), Version: f.Version()}
	}
	return out, nil
}
