package cmd

import (
	"fmt"
	"os"

	"github.com/encodeous/weft/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:   "new [id]",
	Short: "Create a node configuration",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 1 {
			_ = cmd.Usage()
			return
		}

		id := args[0]
		err := state.NameValidator(id)
		if err != nil {
			fmt.Printf("Invalid id: %s\n", id)
			os.Exit(-1)
		}

		cfg := state.DefaultCfg(state.NodeId(id))

		out, err := yaml.Marshal(&cfg)
		if err != nil {
			panic(err)
		}

		outPath := cmd.Flag("output").Value.String()
		err = os.WriteFile(outPath, out, 0700)
		if err != nil {
			panic(err)
		}
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(newCmd)

	newCmd.Flags().StringP("output", "o", "weft.yaml", "output path for the node configuration")
}
