package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/forgeworks/forge/internal/agent"
	"github.com/forgeworks/forge/internal/compaction"
	"github.com/forgeworks/forge/internal/config"
	"github.com/forgeworks/forge/internal/conversations"
	"github.com/forgeworks/forge/internal/infra"
	"github.com/forgeworks/forge/internal/patch"
	"github.com/forgeworks/forge/internal/providers"
	"github.com/forgeworks/forge/internal/snapshot"
	"github.com/forgeworks/forge/internal/tools"
	"github.com/forgeworks/forge/pkg/models"
)

type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	provider     agent.ChatProvider
	repo         *conversations.SQLiteRepository
	snapshots    *snapshot.Store
	services     *tools.Services
	orchestrator *agent.Orchestrator
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		modelFlag  string
		resume     bool
		verbose    bool
	)

	root := &cobra.Command{
		Use:   "forge [task]",
		Short: "Agentic coding assistant runtime",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			application, err := buildApp(configPath, verbose)
			if err != nil {
				return err
			}
			defer application.repo.Close()

			model := application.cfg.DefaultModel
			if modelFlag != "" {
				model = models.ModelID(modelFlag)
			}
			if model == "" {
				return fmt.Errorf("no model configured; set default_model or pass --model")
			}

			ctx := cmd.Context()
			conversation, err := application.resumeOrCreate(ctx, resume)
			if err != nil {
				return err
			}
			application.services.SetMetrics(&conversation.Metrics)

			task := ""
			for i, arg := range args {
				if i > 0 {
					task += " "
				}
				task += arg
			}

			result, err := application.orchestrator.Run(ctx, conversation, model, task)
			if err != nil {
				return err
			}
			fmt.Println(result.Content)
			if result.AwaitingUser {
				fmt.Println("\n(the assistant is waiting for your answer; rerun with --resume)")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "forge.yaml", "path to the workspace config")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.Flags().StringVarP(&modelFlag, "model", "m", "", "model id override")
	root.Flags().BoolVar(&resume, "resume", false, "continue the most recent conversation")

	root.AddCommand(newConversationsCommand(&configPath, &verbose))
	root.AddCommand(newUndoCommand(&configPath, &verbose))
	return root
}

func newConversationsCommand(configPath *string, verbose *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "Manage stored conversations",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(*configPath, *verbose)
			if err != nil {
				return err
			}
			defer application.repo.Close()

			items, err := application.repo.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, c := range items {
				title := "(untitled)"
				if c.Title != nil {
					title = *c.Title
				}
				updated := c.Metadata.CreatedAt
				if c.Metadata.UpdatedAt != nil {
					updated = *c.Metadata.UpdatedAt
				}
				fmt.Printf("%s  %s  %s\n", c.ID, updated.Format(time.RFC3339), title)
			}
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum conversations to list")

	remove := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation from this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(*configPath, *verbose)
			if err != nil {
				return err
			}
			defer application.repo.Close()
			return application.repo.Delete(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(list, remove)
	return cmd
}

func newUndoCommand(configPath *string, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "undo <path>",
		Short: "Restore a file to its state before the last change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(*configPath, *verbose)
			if err != nil {
				return err
			}
			defer application.repo.Close()

			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if _, err := application.snapshots.Undo(path); err != nil {
				return err
			}
			fmt.Printf("restored %s\n", path)
			return nil
		},
	}
}

func buildApp(configPath string, verbose bool) (*app, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	retryCfg := infra.LoadRetryConfig()
	httpClient := infra.NewHTTPClient(infra.LoadHTTPConfig())

	providerCfg, err := cfg.ProviderFor("")
	if err != nil {
		return nil, err
	}
	provider, err := providers.New(providerCfg, httpClient, retryCfg, logger)
	if err != nil {
		return nil, err
	}

	repo, err := conversations.Open(cfg.Workspace.Database, cfg.Workspace.ID)
	if err != nil {
		return nil, err
	}

	snapshots := snapshot.NewStore(cfg.Workspace.SnapshotsDir)
	patcher := patch.NewService(snapshots, patch.ValidatorFunc(patch.BracketValidator), logger)
	services := tools.NewServices(snapshots, patcher)

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	builtins := []tools.Tool{
		tools.NewReadTool(services),
		tools.NewWriteTool(services),
		tools.NewRemoveTool(services),
		tools.NewPatchTool(services),
		tools.NewUndoTool(services),
		tools.NewSearchTool(cwd),
		tools.NewShellTool(cwd),
		tools.NewFetchTool(httpClient),
		&tools.FollowupTool{},
		&tools.AttemptCompletionTool{},
		&tools.PlanTool{},
	}

	registry := tools.NewRegistry(logger)
	subRegistry := tools.NewRegistry(logger)
	for _, tool := range builtins {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
		if err := subRegistry.Register(tool); err != nil {
			return nil, err
		}
	}

	compactor := compaction.New(provider, cfg.Compact, logger)

	options := agent.DefaultOptions()
	options.Logger = logger
	if cfg.Compact.EvictionWindow > 0 {
		options.CompactionThreshold = cfg.Compact.EvictionWindow + cfg.Compact.RetentionWindow
	}

	// Subagents get their own orchestrator over the built-in tools only, so
	// delegation cannot recurse through another agent tool.
	subOrchestrator := agent.NewOrchestrator(provider, subRegistry, nil, compactor, nil, options)
	for _, agentCfg := range cfg.Agents {
		agentTool, err := tools.NewAgentTool(agentCfg, subagentRunner(subOrchestrator, cfg.DefaultModel, agentCfg))
		if err != nil {
			return nil, err
		}
		if err := registry.Register(agentTool); err != nil {
			return nil, err
		}
	}

	orchestrator := agent.NewOrchestrator(provider, registry, repo, compactor, nil, options)

	return &app{
		cfg:          cfg,
		logger:       logger,
		provider:     provider,
		repo:         repo,
		snapshots:    snapshots,
		services:     services,
		orchestrator: orchestrator,
	}, nil
}

func (a *app) resumeOrCreate(ctx context.Context, resume bool) (*models.Conversation, error) {
	if resume {
		last, err := a.repo.Last(ctx)
		if err != nil {
			return nil, err
		}
		if last != nil {
			return last, nil
		}
	}
	now := time.Now().UTC()
	return &models.Conversation{
		ID:       uuid.NewString(),
		Metrics:  models.NewMetrics(now),
		Metadata: models.ConversationMeta{CreatedAt: now},
	}, nil
}

// subagentRunner executes delegated tasks on a fresh conversation per call
// and returns the subagent's final output tagged with its conversation id.
func subagentRunner(orchestrator *agent.Orchestrator, defaultModel models.ModelID, agentCfg models.Agent) tools.AgentRunner {
	return func(ctx context.Context, agentID string, input tools.AgentInput) (models.ToolOutput, error) {
		model := agentCfg.Model
		if model == "" {
			model = defaultModel
		}

		now := time.Now().UTC()
		conversation := &models.Conversation{
			ID:       uuid.NewString(),
			Metrics:  models.NewMetrics(now),
			Metadata: models.ConversationMeta{CreatedAt: now},
		}
		conversation.Context = &models.Context{ConversationID: conversation.ID}
		if agentCfg.SystemPromptTemplate != "" {
			conversation.Context.SetSystemMessages(agentCfg.SystemPromptTemplate)
		}
		agentCfg.ApplySampling(conversation.Context)

		var output models.ToolOutput
		for _, task := range input.Tasks {
			result, err := orchestrator.Run(ctx, conversation, model, task)
			if err != nil {
				return models.TextOutput(err.Error(), true), nil
			}
			value, _ := json.Marshal(result.Content)
			output.Values = append(output.Values, models.ToolValue{AI: &models.AIValue{
				Value:          value,
				ConversationID: conversation.ID,
			}})
		}
		return output, nil
	}
}
