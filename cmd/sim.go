package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/encodeous/weft/core"
	"github.com/encodeous/weft/mock"
	"github.com/encodeous/weft/state"
	"github.com/spf13/cobra"
)

// simCmd runs several nodes on an in-memory fabric in one process, letting
// role election and routing be observed without any real radios.
var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run an in-memory mesh simulation",
	Run: func(cmd *cobra.Command, args []string) {
		count, _ := cmd.Flags().GetInt("nodes")
		dur, _ := cmd.Flags().GetDuration("duration")
		interval, _ := cmd.Flags().GetDuration("interval")

		level := slog.LevelInfo
		if ok, _ := cmd.Flags().GetBool("verbose"); ok {
			level = slog.LevelDebug
		}

		net := mock.NewNetwork()
		states := make([]*state.State, count)
		done := make(chan error, count)
		for i := range count {
			id := state.NodeId(fmt.Sprintf("node-%d", i+1))
			cfg := state.DefaultCfg(id)
			cfg.DiscoveryInterval = interval
			transport := net.NewTransport(id)
			go func(i int) {
				done <- core.Start(cfg, transport, level, &states[i])
			}(i)
		}

		time.Sleep(dur)
		for _, s := range states {
			if s != nil {
				s.Cancel(errors.New("simulation finished"))
			}
		}
		for range count {
			<-done
		}

		for _, s := range states {
			if s == nil {
				continue
			}
			n := core.Get[*core.Coordinator](s).LocalNode()
			fmt.Printf("%s: role=%s clients=%d backbone=%v\n", n.Id, n.Role, n.ClientCount, n.ConnectedHosts)
		}
	},
	GroupID: "wf",
}

func init() {
	rootCmd.AddCommand(simCmd)

	simCmd.Flags().IntP("nodes", "n", 10, "number of simulated nodes")
	simCmd.Flags().DurationP("duration", "d", 30*time.Second, "how long to run the simulation")
	simCmd.Flags().DurationP("interval", "i", 2*time.Second, "discovery interval for simulated nodes")
	simCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
}
