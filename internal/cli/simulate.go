package cli

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/shsh-tutor/internal/catalog"
	"github.com/ashureev/shsh-tutor/internal/selection"
	"github.com/ashureev/shsh-tutor/internal/store"
)

type simulateOptions struct {
	catalogPath  string
	calls        int
	policy       string
	targetType   string
	threshold    int
	recentWindow int
	engineStrict bool
	seed         uint64
	session      string
}

type simulatedServe struct {
	Call int    `json:"call"`
	ID   string `json:"id"`
	Type string `json:"type"`
}

func init() {
	opts := &simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay the selection engine against a catalog file in memory",
		Long: "Serves --calls items for one session from a catalog file without touching " +
			"persistence. Useful for checking rotation and no-repeat behaviour of a catalog.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulate(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.catalogPath, "catalog", "./data/catalog.json", "Catalog JSON file")
	f.IntVarP(&opts.calls, "calls", "n", 20, "Number of items to serve")
	f.StringVar(&opts.policy, "policy", "simple", "Selection policy: simple or engine")
	f.StringVar(&opts.targetType, "type", "", "Serve only this item type")
	f.IntVar(&opts.threshold, "threshold", 3, "Serves per type before rotating")
	f.IntVar(&opts.recentWindow, "recent", 5, "Recent-id window")
	f.BoolVar(&opts.engineStrict, "strict", false, "Engine recommendations replace the current type")
	f.Uint64Var(&opts.seed, "seed", 0, "Random seed (0 picks one)")
	f.StringVar(&opts.session, "session", "s_5151abcd", "Session id to simulate")

	RootCmd.AddCommand(cmd)
}

func runSimulate(cmd *cobra.Command, opts *simulateOptions) error {
	if opts.calls < 1 {
		return fmt.Errorf("--calls must be at least 1")
	}
	items, err := catalog.Load(opts.catalogPath, nil)
	if err != nil {
		return err
	}

	seed := opts.seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	mgr := selection.NewManager(selection.Config{
		RecentWindow:  opts.recentWindow,
		DefaultPolicy: opts.policy,
		Threshold:     opts.threshold,
		EngineStrict:  opts.engineStrict,
	}, store.NewNoop(), selection.WithRand(rand.New(rand.NewPCG(seed, seed))))
	defer mgr.Close()

	next := selection.NextOptions{Policy: opts.policy}
	if t := strings.TrimSpace(opts.targetType); t != "" {
		next.TargetType = &t
	}

	serves := make([]simulatedServe, 0, opts.calls)
	for i := 1; i <= opts.calls; i++ {
		item, ok := mgr.Next(opts.session, items, next)
		if !ok {
			break
		}
		serves = append(serves, simulatedServe{Call: i, ID: item.ID, Type: item.Type})
	}

	if !textOutput() {
		return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
			"seed":   seed,
			"serves": serves,
		})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "seed=%d\n", seed)
	for _, s := range serves {
		fmt.Fprintf(out, "%3d  %-20s %s\n", s.Call, s.ID, s.Type)
	}
	return nil
}
