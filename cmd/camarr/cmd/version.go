package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/camarr/internal/version"
)

var versionJSON bool

// versionCmd represents the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the version, commit, and build date of camarr.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionJSON {
			out, err := version.JSON()
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		}

		fmt.Println(version.String())
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "output version information as JSON")
	rootCmd.AddCommand(versionCmd)
}
