package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillsmith/pkg/presenter"
	"github.com/jingkaihe/skillsmith/pkg/router"
)

var routeCmd = &cobra.Command{
	Use:   "route <query>",
	Short: "Select the skills that answer a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		noCache, _ := cmd.Flags().GetBool("no-cache")
		return runRoute(cmd.Context(), cmd.OutOrStdout(), strings.Join(args, " "), asJSON, noCache)
	},
}

func init() {
	routeCmd.Flags().Bool("json", false, "Print the decision as JSON")
	routeCmd.Flags().Bool("no-cache", false, "Bypass the decision cache")
}

// routeOutput is the JSON form of a routing decision.
type routeOutput struct {
	router.Decision
	Candidates int      `json:"candidates"`
	Cached     bool     `json:"cached"`
	Paths      []string `json:"paths"`
}

func runRoute(ctx context.Context, w io.Writer, query string, asJSON, noCache bool) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(st)

	var cache router.Cache
	if !noCache {
		cache = routeCache(st)
	}
	svc, err := newRouterService(ctx, cache)
	if err != nil {
		return err
	}

	sel, err := svc.Select(ctx, query)
	if errors.Is(err, router.ErrNoCandidates) {
		return errors.Errorf("no skills found in %s", cfg.SkillsDir)
	}
	if err != nil {
		return err
	}

	out := routeOutput{Decision: sel.Decision, Candidates: sel.Candidates, Cached: sel.Cached}
	for _, s := range sel.Selected {
		out.Paths = append(out.Paths, s.Directory)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for i, s := range sel.Selected {
		fmt.Fprintf(w, "%d. %s  %s\n   %s\n", i+1, s.Name, s.Directory, s.Description)
	}
	fmt.Fprintf(w, "\nconfidence: %s\nreasoning: %s\n", out.Confidence, out.Reasoning)
	if out.Fallback {
		presenter.Warning("decision fell back to keyword ranking")
	}
	return nil
}
