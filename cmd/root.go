package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "Weft Mesh Coordination CLI",
	Long: `Weft coordinates ad-hoc device meshes: each node elects itself into a host
or client role, tracks the surrounding topology and relays messages across
the host backbone.`,
	// Uncomment the following line if your bare application
	// has an action associated with it:
	// Run: func(cmd *cobra.Command, args []string) { },
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Initialize Weft",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "wf",
		Title: "Weft Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "weft.yaml", "node configuration")
}
