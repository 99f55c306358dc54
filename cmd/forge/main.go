// Command forge wires the Turn Store, Agent Engine, and Pipeline Engine
// together end-to-end: "forge chat" drives a single interactive Session
// against a configured model provider; "forge run" builds a demo graph with
// graph.Builder and drives it through the Pipeline Engine's default handler
// registry, whose codergen handler has no session factory and so records a
// simulated response per stage instead of running a Session. Grounded on the teacher's cmd/demo/main.go wiring shape,
// generalized from its stub planner to this module's provider/session/
// pipeline packages. CLI surface (argument parsing, console rendering) is
// explicitly out of scope per spec.md §1; this file is the minimal
// end-to-end wiring a reader needs to exercise the engines, not a full CLI.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/forgehq/forge/internal/pipeline"
	"github.com/forgehq/forge/internal/pipeline/graph"
	"github.com/forgehq/forge/internal/pipeline/pstate"
	"github.com/forgehq/forge/internal/pipeline/retry"
	"github.com/forgehq/forge/internal/provider"
	"github.com/forgehq/forge/internal/provider/anthropic"
	"github.com/forgehq/forge/internal/provider/bedrock"
	"github.com/forgehq/forge/internal/provider/openai"
	"github.com/forgehq/forge/internal/sandbox"
	"github.com/forgehq/forge/internal/session"
	"github.com/forgehq/forge/internal/tools"
	"github.com/forgehq/forge/internal/turnstore"
	"github.com/forgehq/forge/internal/turnstore/fsstore"
	"github.com/forgehq/forge/internal/turnstore/memory"
)

func init() {
	_ = godotenv.Load()
	provider.Default.Register("anthropic", anthropic.Factory)
	provider.Default.Register("openai", openai.Factory)
	provider.Default.Register("bedrock", bedrock.Factory)
}

func main() {
	root := &cobra.Command{
		Use:          "forge",
		Short:        "agentic coding platform: session dispatch + pipeline scheduler over a durable turn store",
		SilenceUsage: true,
	}
	root.AddCommand(newChatCmd(), newRunCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func newChatCmd() *cobra.Command {
	var providerName, model, workDir, storeKind, storeRoot, eventsRedisAddr string
	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "submit one prompt to a fresh Session and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			llm, err := buildProvider(providerName, model)
			if err != nil {
				return err
			}
			store, err := buildStore(storeKind, storeRoot)
			if err != nil {
				return err
			}
			if workDir == "" {
				workDir, err = os.Getwd()
				if err != nil {
					return err
				}
			}
			reg := tools.NewRegistry()
			if err := tools.RegisterBuiltins(reg); err != nil {
				return err
			}
			cfg := session.DefaultConfig()
			deps := session.Deps{
				ExecutionEnv: sandbox.NewLocal(workDir),
				LLMClient:    llm,
				ToolRegistry: reg,
			}
			if store != nil {
				cfg.Persistence = session.PersistenceBestEffort
				deps.Store = store
			}
			if eventsRedisAddr != "" {
				emitter, err := session.NewRedisEmitter(session.RedisEmitterOptions{
					Client: redis.NewClient(&redis.Options{Addr: eventsRedisAddr}),
				})
				if err != nil {
					return err
				}
				deps.EventEmitter = emitter
			}
			sess := session.New(cfg, deps)
			defer sess.Close()

			result, err := sess.Submit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(result.AssistantText)
			return nil
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "anthropic", "model provider: anthropic|openai|bedrock")
	cmd.Flags().StringVar(&model, "model", "", "model identifier (provider default if empty)")
	cmd.Flags().StringVar(&workDir, "workdir", "", "sandbox working directory (default: cwd)")
	cmd.Flags().StringVar(&storeKind, "store", "", "turn store backend: memory|fs (unset disables persistence)")
	cmd.Flags().StringVar(&storeRoot, "store-root", ".forge/turns", "fsstore root directory")
	cmd.Flags().StringVar(&eventsRedisAddr, "events-redis-addr", os.Getenv("REDIS_ADDR"), "publish the session event stream to this Redis address (unset disables it)")
	return cmd
}

func newRunCmd() *cobra.Command {
	var logsRoot, resumePath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the built-in demo pipeline graph (plan -> review -> synth -> exit) through the Pipeline Engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := demoGraph()
			if err != nil {
				return err
			}
			runner := pipeline.NewRunner(pipeline.RunConfig{
				LogsRoot:   logsRoot,
				ResumePath: resumePath,
				Backoff:    retry.DefaultBackoffConfig(),
			})
			result, err := runner.Run(cmd.Context(), g)
			if err != nil {
				return err
			}
			fmt.Printf("run %s: %s\n", result.RunID, result.Status)
			for _, id := range result.CompletedNodes {
				outcome := result.NodeOutcomes[id]
				fmt.Printf("  %-10s %-8s %s\n", id, outcome.Status, outcome.Notes)
			}
			os.Exit(exitCodeFor(result.Status))
			return nil
		},
	}
	cmd.Flags().StringVar(&logsRoot, "logs-root", ".forge/runs/demo", "checkpoint directory")
	cmd.Flags().StringVar(&resumePath, "resume", "", "resume from an explicit checkpoint.json path")
	return cmd
}

func exitCodeFor(status pstate.RunStatus) int {
	if status == pstate.RunSuccess {
		return 0
	}
	return 2
}

func buildProvider(name, model string) (provider.Client, error) {
	config := map[string]any{"default_model": model}
	switch name {
	case "anthropic":
		config["api_key"] = os.Getenv("ANTHROPIC_API_KEY")
		config["base_url"] = os.Getenv("ANTHROPIC_BASE_URL")
		if model == "" {
			config["default_model"] = os.Getenv("ANTHROPIC_LIVE_MODEL")
		}
	case "openai":
		config["api_key"] = os.Getenv("OPENAI_API_KEY")
		config["base_url"] = os.Getenv("OPENAI_BASE_URL")
		if model == "" {
			config["default_model"] = os.Getenv("OPENAI_LIVE_MODEL")
		}
	case "bedrock":
		config["region"] = os.Getenv("AWS_REGION")
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	if tpm := os.Getenv("FORGE_RATE_LIMIT_TPM"); tpm != "" {
		if v, err := strconv.ParseFloat(tpm, 64); err == nil {
			config["rate_limit_tpm"] = v
		}
	}
	return provider.Default.Build(name, config)
}

func buildStore(kind, root string) (turnstore.TypedTurnStore, error) {
	switch kind {
	case "":
		return nil, nil
	case "memory":
		return turnstore.NewTypedStore(memory.New(), memory.New()), nil
	case "fs":
		st, err := fsstore.Open(root)
		if err != nil {
			return nil, err
		}
		return turnstore.NewTypedStore(st, st), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}

// demoGraph builds the five-node start->plan->review->synth->exit graph used by
// the checkpoint/resume scenario in spec.md §8 S9, wired so "forge run" has
// something to execute without a DOT file.
func demoGraph() (graph.Graph, error) {
	b := graph.NewBuilder("demo")
	startAttrs := graph.NewAttrSet()
	startAttrs.Set("shape", graph.AttrValue{Kind: graph.AttrString, Str: "Mdiamond"})
	exitAttrs := graph.NewAttrSet()
	exitAttrs.Set("shape", graph.AttrValue{Kind: graph.AttrString, Str: "Msquare"})

	promptAttr := func(prompt string) graph.AttrSet {
		a := graph.NewAttrSet()
		a.Set("prompt", graph.AttrValue{Kind: graph.AttrString, Str: prompt})
		return a
	}

	b.Node("start", startAttrs).
		Node("plan", promptAttr("Draft a short implementation plan.")).
		Node("review", promptAttr("Review the plan for gaps.")).
		Node("synth", promptAttr("Summarize the reviewed plan.")).
		Node("exit", exitAttrs).
		Edge("start", "plan", graph.NewAttrSet()).
		Edge("plan", "review", graph.NewAttrSet()).
		Edge("review", "synth", graph.NewAttrSet()).
		Edge("synth", "exit", graph.NewAttrSet())

	return b.Build()
}
