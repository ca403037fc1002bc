// Command warpctl is a thin demo CLI over the engine package: it opens a
// graph against an in-memory object store, applies one patch built from
// flags, and prints the resulting materialized state. It exists for manual
// smoke-testing and is not part of the core engine contract — a real
// deployment wires internal/engine against a durable objectstore.Store
// implementation instead of memstore.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/warpdb/warp/internal/config"
	"github.com/warpdb/warp/internal/crdt"
	"github.com/warpdb/warp/internal/engine"
	"github.com/warpdb/warp/internal/logging"
	"github.com/warpdb/warp/internal/objectstore/memstore"
	"github.com/warpdb/warp/internal/patch"
)

var (
	Version = "dev"

	graphName string
	writerID  string
	nodes     []string
	edges     []string
	jsonLog   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "warpctl",
	Short:   "Apply a patch to an in-memory WARP graph and print the result",
	Version: Version,
	RunE:    runDemo,
}

func init() {
	rootCmd.Flags().StringVar(&graphName, "graph", "demo", "graph name")
	rootCmd.Flags().StringVar(&writerID, "writer", "warpctl", "writer id to commit as")
	rootCmd.Flags().StringSliceVar(&nodes, "node", []string{"alice", "bob"}, "node id to add (repeatable)")
	rootCmd.Flags().StringSliceVar(&edges, "edge", []string{"alice:bob:knows"}, "from:to:label edge to add (repeatable)")
	rootCmd.Flags().BoolVar(&jsonLog, "json-log", false, "emit structured JSON logs instead of text")
}

func runDemo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.New(logging.Config{JSONFormat: jsonLog || cfg.Logging.JSONFormat})

	store := memstore.New()
	e := engine.New(engine.Options{Store: store, Config: cfg, Log: log})
	defer e.Close()

	g := e.Graph(graphName)

	edgeSpecs, err := parseEdges(edges)
	if err != nil {
		return err
	}

	sha, err := g.Commit(ctx, writerID, func(b *patch.Builder) {
		for _, n := range nodes {
			b.AddNode(n)
		}
		for _, es := range edgeSpecs {
			b.AddEdge(es.from, es.to, es.label)
		}
	})
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	fmt.Printf("committed %s on writer %q (patch commit %s)\n", graphName, writerID, sha)

	state, err := g.Layer().State()
	if err != nil {
		return fmt.Errorf("read materialized state: %w", err)
	}
	printState(state)

	report, err := e.Health(ctx)
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	fmt.Printf("\nstore reachable: %v (%dms)\n", report.Store.OK, report.Store.LatencyMs)
	return nil
}

type edgeSpec struct{ from, to, label string }

func parseEdges(raw []string) ([]edgeSpec, error) {
	out := make([]edgeSpec, 0, len(raw))
	for _, r := range raw {
		parts := strings.SplitN(r, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid --edge %q, want from:to:label", r)
		}
		out = append(out, edgeSpec{from: parts[0], to: parts[1], label: parts[2]})
	}
	return out, nil
}

func printState(state crdt.WarpState) {
	ids := state.SortedNodeIDs()
	fmt.Printf("\nnodes (%d):\n", len(ids))
	for _, id := range ids {
		fmt.Printf("  %s\n", id)
	}

	type edgeLine struct{ from, to, label string }
	var edgeLines []edgeLine
	for _, key := range state.EdgeAlive.Elements() {
		from, to, label, ok := crdt.DecodeEdgeKey(key)
		if ok {
			edgeLines = append(edgeLines, edgeLine{from, to, label})
		}
	}
	sort.Slice(edgeLines, func(i, j int) bool {
		if edgeLines[i].from != edgeLines[j].from {
			return edgeLines[i].from < edgeLines[j].from
		}
		if edgeLines[i].to != edgeLines[j].to {
			return edgeLines[i].to < edgeLines[j].to
		}
		return edgeLines[i].label < edgeLines[j].label
	})
	fmt.Printf("\nedges (%d):\n", len(edgeLines))
	for _, e := range edgeLines {
		fmt.Printf("  %s -[%s]-> %s\n", e.from, e.label, e.to)
	}

	fmt.Printf("\nstate hash: %s\n", crdt.StateHash(state))
}
