package cmd

import (
	"log/slog"
	"os"

	"github.com/encodeous/weft/core"
	"github.com/encodeous/weft/mock"
	"github.com/encodeous/weft/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a weft node",
	Long:  `This will run a single weft node on the current device until interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		var cfg state.MeshCfg
		file, err := os.ReadFile(configPath)
		if err != nil {
			panic(err)
		}
		err = yaml.Unmarshal(file, &cfg)
		if err != nil {
			panic(err)
		}
		cfg.ApplyDefaults()

		err = state.MeshConfigValidator(&cfg)
		if err != nil {
			panic(err)
		}

		level := slog.LevelInfo
		if ok, _ := cmd.Flags().GetBool("verbose"); ok {
			level = slog.LevelDebug
		}

		// TODO: select the transport adapter here once one beyond the
		// in-memory fabric exists
		transport := mock.NewNetwork().NewTransport(cfg.Id)

		err = core.Start(cfg, transport, level, nil)
		if err != nil {
			panic(err)
		}
	},
	GroupID: "wf",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
}
