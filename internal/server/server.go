// Package server wires all components and creates the MCP server instance.
//
// This is the composition root: it opens the snapshot store and the
// journal, registers the configured voters, builds the pipeline and hands
// it to the tools, prompts and resources. No business logic lives here.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/HendryAvila/forge/internal/classifier"
	"github.com/HendryAvila/forge/internal/config"
	"github.com/HendryAvila/forge/internal/journal"
	"github.com/HendryAvila/forge/internal/pipeline"
	"github.com/HendryAvila/forge/internal/prompts"
	"github.com/HendryAvila/forge/internal/resources"
	"github.com/HendryAvila/forge/internal/snapshot"
	"github.com/HendryAvila/forge/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Workspace holds the opened components of one data directory.
type Workspace struct {
	Store      *snapshot.Store
	Journal    *journal.Journal
	Classifier *classifier.Classifier
	Pipeline   *pipeline.Pipeline

	logger zerolog.Logger
}

// Open opens the store and journal under cfg.DataDir and recovers the
// pipeline. The caller must Close the workspace.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Workspace, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	store, err := snapshot.New(snapshot.Config{DataDir: cfg.StorePath()})
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}

	jcfg := journal.DefaultConfig(cfg.JournalPath())
	jcfg.SyncWrites = cfg.Journal.SyncWrites
	jcfg.Logger = logger.With().Str("component", "journal").Logger()
	j, err := journal.Open(jcfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	ws := &Workspace{Store: store, Journal: j, logger: logger}
	ws.Classifier, err = newClassifier(cfg, logger.With().Str("component", "classifier").Logger())
	if err != nil {
		ws.Close()
		return nil, err
	}

	ws.Pipeline, err = pipeline.New(ctx, store, ws.Classifier, j, pipeline.Config{
		PeerID:           cfg.PeerID,
		ClassifyTimeout:  cfg.Pipeline.ClassifyTimeout,
		MaxCommitRetries: cfg.Pipeline.MaxCommitRetries,
	}, logger.With().Str("component", "pipeline").Logger())
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("starting pipeline: %w", err)
	}
	return ws, nil
}

// Close closes the journal and the store.
func (w *Workspace) Close() error {
	return errors.Join(w.Journal.Close(), w.Store.Close())
}

// newClassifier registers the built-in voters enabled in cfg.
func newClassifier(cfg *config.Config, logger zerolog.Logger) (*classifier.Classifier, error) {
	cls := classifier.New(logger)
	var voters []classifier.Voter
	if cfg.Voters.Path {
		voters = append(voters, classifier.NewPathVoter())
	}
	if cfg.Voters.Markers {
		voters = append(voters, classifier.MarkerVoter{})
	}
	if cfg.Voters.MaxLines > 0 {
		voters = append(voters, classifier.SizeVoter{MaxLines: cfg.Voters.MaxLines})
	}
	for _, v := range voters {
		if err := cls.Register(v); err != nil {
			return nil, fmt.Errorf("registering voter %s: %w", v.ID(), err)
		}
	}
	return cls, nil
}

// New creates the MCP server with all tools, prompts and resources
// registered against ws.
func New(ws *Workspace) *server.MCPServer {
	s := server.NewMCPServer(
		"forge",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	p := ws.Pipeline

	// --- Change tools ---

	applyTool := tools.NewApplyTool(p)
	s.AddTool(applyTool.Definition(), applyTool.Handle)

	previewTool := tools.NewPreviewTool(p)
	s.AddTool(previewTool.Definition(), previewTool.Handle)

	receiveTool := tools.NewReceiveTool(p)
	s.AddTool(receiveTool.Definition(), receiveTool.Handle)

	// --- Classification ---

	predictTool := tools.NewPredictTool(p)
	s.AddTool(predictTool.Definition(), predictTool.Handle)

	isSafeTool := tools.NewIsSafeTool(p)
	s.AddTool(isSafeTool.Definition(), isSafeTool.Handle)

	vetoTool := tools.NewVetoTool(ws.Classifier)
	s.AddTool(vetoTool.Definition(), vetoTool.Handle)

	resetTool := tools.NewResetVotesTool(ws.Classifier)
	s.AddTool(resetTool.Definition(), resetTool.Handle)

	// --- History & branches ---

	historyTool := tools.NewHistoryTool(p)
	s.AddTool(historyTool.Definition(), historyTool.Handle)

	diffTool := tools.NewDiffTool(p)
	s.AddTool(diffTool.Definition(), diffTool.Handle)

	branchesTool := tools.NewBranchesTool(p)
	s.AddTool(branchesTool.Definition(), branchesTool.Handle)

	createBranchTool := tools.NewCreateBranchTool(p)
	s.AddTool(createBranchTool.Definition(), createBranchTool.Handle)

	checkoutTool := tools.NewCheckoutTool(p)
	s.AddTool(checkoutTool.Definition(), checkoutTool.Handle)

	mergeTool := tools.NewMergeTool(p)
	s.AddTool(mergeTool.Definition(), mergeTool.Handle)

	// --- Prompts ---

	changePrompt := prompts.NewChangePrompt()
	s.AddPrompt(changePrompt.Definition(), changePrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Resources ---

	resourceHandler := resources.NewHandler(p)
	s.AddResource(resourceHandler.StatusResource(), resourceHandler.HandleStatus)

	ws.logger.Info().
		Strs("voters", ws.Classifier.Voters()).
		Str("version", Version).
		Msg("mcp server ready")
	return s
}

// serverInstructions tells the AI how to use forge.
func serverInstructions() string {
	return `You have access to Forge, a workspace that applies text edits as classified, versioned changes.

## How changes flow
1. Express an edit as operations: insert, delete or replace at a rune offset, per file.
   Positions refer to the text after the previous operation in the same batch.
2. forge_apply integrates the batch with concurrent edits, diffs every touched file
   against the branch head and asks the registered voters for a verdict.
3. GREEN commits a snapshot. YELLOW needs approve=true. RED rejects the whole batch,
   nothing is committed and the conflicts name each file, line and reason.

## Before applying
- forge_predict or forge_is_safe classify a whole-file replacement without side effects.
- forge_preview classifies a batch of operations without integrating it.
- Never set approve=true or force=true unless the user explicitly agreed.

## Branches
- forge_create_branch, forge_checkout and forge_merge work like git branches over snapshots.
- Checkout and merging into the current branch fail while operations received from peers
  are uncommitted; apply a batch touching those files first.
- A merge conflict leaves the target's version of that file in the merge snapshot and
  reports the file, line and reason; resolve it with a forge_apply on the target branch.

## Reading state
- forge://workspace/status shows the branch, head, uncommitted files, voters and vetoes.
- forge_history and forge_diff show snapshots and unified diffs.`
}
