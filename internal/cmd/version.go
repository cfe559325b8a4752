package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var (
	versionExtended bool
	versionJSON     bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		if versionJSON {
			payload := map[string]string{
				"version":    versionInfo.Version,
				"commit":     versionInfo.Commit,
				"build_date": versionInfo.BuildDate,
				"go":         runtime.Version(),
			}
			if versionExtended {
				v := crucible.GetVersion()
				payload["gofulmen"] = v.Gofulmen
				payload["crucible"] = v.Crucible
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(payload)
		}

		_, _ = fmt.Fprintln(out, versionString())
		if versionExtended {
			v := crucible.GetVersion()
			_, _ = fmt.Fprintf(out, "  go:       %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			_, _ = fmt.Fprintf(out, "  gofulmen: %s\n", v.Gofulmen)
			_, _ = fmt.Fprintf(out, "  crucible: %s\n", v.Crucible)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionExtended, "extended", false, "Include runtime and library versions")
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Emit JSON")
}
