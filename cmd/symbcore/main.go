// Command symbcore is a minimal, non-interactive driver for the agent
// core: it wires every internal package into one running session and
// prints wire events to stdout. Any richer UI would subscribe to the
// same wire instead of this print-mode subscriber.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xonecas/symbcore/internal/agentloop"
	"github.com/xonecas/symbcore/internal/agentspec"
	"github.com/xonecas/symbcore/internal/approval"
	"github.com/xonecas/symbcore/internal/compaction"
	"github.com/xonecas/symbcore/internal/config"
	"github.com/xonecas/symbcore/internal/contextstore"
	"github.com/xonecas/symbcore/internal/delta"
	"github.com/xonecas/symbcore/internal/lsp"
	"github.com/xonecas/symbcore/internal/provider"
	"github.com/xonecas/symbcore/internal/runtime"
	"github.com/xonecas/symbcore/internal/shell"
	"github.com/xonecas/symbcore/internal/store"
	"github.com/xonecas/symbcore/internal/toollib"
	"github.com/xonecas/symbcore/internal/toolset"
	"github.com/xonecas/symbcore/internal/treesitter"
	"github.com/xonecas/symbcore/internal/wire"
)

func main() {
	configPath := flag.String("c", "", "path to config TOML file")
	sessionFlag := flag.String("s", "", "session id to resume")
	listFlag := flag.Bool("l", false, "list sessions for the current working directory and exit")
	continueFlag := flag.Bool("continue", false, "resume the most recently touched session for this working directory")
	promptFlag := flag.String("p", "", "run one turn with this prompt and exit, instead of reading stdin")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	cfg, creds, err := loadConfigAndCredentials(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("symbcore: failed to load configuration")
	}

	workDir, err := os.Getwd()
	if err != nil {
		log.Fatal().Err(err).Msg("symbcore: getwd")
	}
	workdirHash := hashWorkdir(workDir)

	dataDir, err := config.EnsureDataDir()
	if err != nil {
		log.Fatal().Err(err).Msg("symbcore: ensure data dir")
	}
	cache, err := store.Open(filepath.Join(dataDir, "symb.db"), time.Duration(cfg.Cache.CacheTTLOrDefault())*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("symbcore: open cache")
	}
	defer cache.Close()

	if *listFlag {
		printSessions(cache, workdirHash)
		return
	}

	sessionID, err := resolveSessionID(cache, workdirHash, *sessionFlag, *continueFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("symbcore: resolve session")
	}

	sessionDir := filepath.Join(dataDir, "sessions", workdirHash, sessionID)
	if err := os.MkdirAll(sessionDir, 0o750); err != nil {
		log.Fatal().Err(err).Msg("symbcore: create session dir")
	}

	ctxStore, err := contextstore.Open(filepath.Join(sessionDir, "context.jsonl"))
	if err != nil {
		log.Fatal().Err(err).Msg("symbcore: open context journal")
	}
	defer ctxStore.Close()

	bus := wire.New()
	fileRec, err := wire.NewFileRecorder(context.Background(), bus, filepath.Join(sessionDir, "wire.jsonl"))
	if err != nil {
		log.Fatal().Err(err).Msg("symbcore: open wire recorder")
	}
	defer fileRec.Close()

	prov, err := buildProvider(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("symbcore: build provider")
	}
	defer prov.Close()

	approvalMediator := approval.New(cfg.Agent.YOLO, func(req approval.Request) {
		bus.Publish(wire.KindApprovalRequest, req)
	})

	rt := runtime.New(workDir, prov, cfg, approvalMediator, sessionID)

	lspMgr := lsp.NewManager(bus)
	defer lspMgr.StopAll(context.Background())

	tsIndex := treesitter.NewIndex(workDir)
	if err := tsIndex.Build(); err != nil {
		log.Warn().Err(err).Msg("symbcore: tree-sitter index build failed, continuing without it")
	}

	deltaTracker := delta.New(cache.DB())
	deltaTracker.SetSession(sessionID)
	deltaTracker.BeginTurn(time.Now().UnixNano())

	sh := shell.New(workDir, nil)

	dmailBox := agentloop.NewDMailBox()

	inj := toolset.NewInjector()
	toolset.Provide(inj, rt)
	toolset.Provide(inj, toollib.NewReadTracker())
	toolset.Provide(inj, lspMgr)
	toolset.Provide(inj, tsIndex)
	toolset.Provide(inj, deltaTracker)
	toolset.Provide(inj, sh)
	toolset.Provide(inj, cache)
	toolset.Provide(inj, ctxStore)
	toolset.Provide(inj, dmailBox)
	toolset.Provide(inj, toollib.NewScratchpad())
	if exaKey := creds.GetAPIKey("exa_ai"); exaKey != "" {
		toolset.Provide(inj, toollib.ExaAPIKey(exaKey))
	}

	tools := toolset.New()
	if err := tools.Load(inj, toollib.Factories(), toollib.Names); err != nil {
		log.Fatal().Err(err).Msg("symbcore: load toolset")
	}

	compactor := buildCompactor(cfg.Agent, prov)
	systemPrompt := agentspec.BuildSystemPrompt(workDir, tsIndex)

	loop := agentloop.New(ctxStore, bus, tools, prov, approvalMediator, compactor, cfg.Agent.WithDefaults(), systemPrompt)
	// The SendDMail tool and the loop must share one box, or a queued
	// rewind would never be observed.
	loop.DMail = dmailBox

	rt.Labor.Register(runtime.AgentSpec{
		Name:          "researcher",
		SystemPrompt:  "You are a read-only research sub-agent. Investigate the codebase and the web to answer the question you were given; do not modify any files. Report your findings as your final message.",
		ToolNames:     []string{"Read", "Grep", "Glob", "WebFetch", "WebSearch"},
		MaxIterations: 8,
	})

	if meta, metaErr := cache.GetWorkdirMeta(workdirHash); metaErr == nil && meta.ThinkingMode != "" {
		loop.ThinkingEffort = agentloop.ThinkingEffort(meta.ThinkingMode)
	}
	loop.Commands = map[string]agentloop.Command{
		"think": func(_ context.Context, args string) error {
			switch args {
			case "off", "low", "medium", "high":
				loop.ThinkingEffort = agentloop.ThinkingEffort(args)
				return cache.SetWorkdirMeta(workdirHash, store.WorkdirMeta{LastSessionID: sessionID, ThinkingMode: args})
			default:
				return fmt.Errorf("usage: /think off|low|medium|high")
			}
		},
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sub := bus.Subscribe(sigCtx)
	go printEvents(sub, approvalMediator, cfg.Agent.YOLO)

	if err := cache.CreateSession(sessionID, workdirHash); err != nil {
		log.Debug().Err(err).Msg("symbcore: session already registered")
	}

	if *promptFlag != "" {
		runTurn(sigCtx, loop, cache, sessionID, workdirHash, *promptFlag)
		return
	}

	runREPL(sigCtx, loop, cache, sessionID, workdirHash)
}

func loadConfigAndCredentials(path string) (*config.Config, *config.Credentials, error) {
	if path == "" {
		dataDir, err := config.EnsureDataDir()
		if err != nil {
			return nil, nil, err
		}
		path = filepath.Join(dataDir, "config.toml")
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			if writeErr := os.WriteFile(path, []byte(defaultConfigTOML), 0o600); writeErr != nil {
				return nil, nil, fmt.Errorf("write default config: %w", writeErr)
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	creds, err := config.LoadCredentials()
	if err != nil {
		return nil, nil, err
	}
	return cfg, creds, nil
}

const defaultConfigTOML = `default_provider = "mock"

[providers.mock]
endpoint = "local://mock"
model = "mock-1"
temperature = 0.7

[agent]
yolo = false
compaction_strategy = "hiding_then_summary"
`

// buildProvider registers the provider factories and creates the
// configured default provider. Only "mock" is registered, so a fresh
// install runs end to end against the stub responder without an API key;
// any other default_provider name fails with a provider-not-found error.
func buildProvider(cfg *config.Config) (provider.Provider, error) {
	registry := provider.NewRegistry()
	registry.RegisterFactory("mock", provider.NewMockFactory("mock", "This is a stub response from the mock provider — configure a real provider in config.toml to talk to an LLM."))

	name := cfg.DefaultProvider
	if name == "" {
		name = "mock"
	}
	pc := cfg.Providers[name]
	return registry.Create(name, pc.Model, provider.Options{Temperature: pc.Temperature})
}

func buildCompactor(agentCfg config.AgentConfig, prov provider.Provider) compaction.Strategy {
	cfg := agentCfg.WithDefaults()
	hiding := compaction.NewHiding(cfg.MaxPreservedMessages)
	switch cfg.CompactionStrategy {
	case "hiding":
		return hiding
	case "summary":
		return compaction.NewSummary(prov, cfg.MaxPreservedMessages)
	default:
		return compaction.NewHidingThenSummary(hiding, compaction.NewSummary(prov, cfg.MaxPreservedMessages))
	}
}

func hashWorkdir(workDir string) string {
	sum := sha256.Sum256([]byte(workDir))
	return hex.EncodeToString(sum[:])[:12]
}

func newSessionID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func resolveSessionID(cache *store.Cache, workdirHash, requested string, resume bool) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if resume {
		id, err := cache.LatestSessionID(workdirHash)
		if err == nil {
			return id, nil
		}
		log.Warn().Err(err).Msg("symbcore: no previous session to resume, starting a new one")
	}
	return newSessionID(), nil
}

func printSessions(cache *store.Cache, workdirHash string) {
	sessions, err := cache.ListSessions(workdirHash)
	if err != nil {
		log.Fatal().Err(err).Msg("symbcore: list sessions")
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions for this working directory")
		return
	}
	for _, s := range sessions {
		fmt.Printf("%s\t%s\t%s\n", s.ID, s.Timestamp.Format(time.RFC3339), s.Preview)
	}
}

// printEvents renders wire events as terse single-line status, and
// resolves approval requests when YOLO is off by prompting on stdin.
func printEvents(sub *wire.Subscription, mediator *approval.Mediator, yolo bool) {
	for ev := range sub.C {
		switch ev.Kind {
		case wire.KindTextDelta:
			if p, ok := ev.Payload.(agentloop.TextDeltaEvent); ok {
				fmt.Print(p.Content)
			}
		case wire.KindToolCallAnnounce:
			if p, ok := ev.Payload.(agentloop.ToolCallAnnounceEvent); ok {
				fmt.Printf("\n[tool] %s\n", p.Name)
			}
		case wire.KindApprovalRequest:
			if yolo {
				continue
			}
			if req, ok := ev.Payload.(approval.Request); ok {
				handleApprovalPrompt(mediator, req)
			}
		case wire.KindStatusUpdate:
			if p, ok := ev.Payload.(agentloop.StatusUpdateEvent); ok {
				log.Debug().Int("input_tokens", p.InputTokens).Int("output_tokens", p.OutputTokens).Msg("status")
			}
		case wire.KindDiagnostics:
			if p, ok := ev.Payload.(lsp.DiagnosticsEvent); ok && len(p.Lines) > 0 {
				log.Debug().Str("file", p.File).Int("diagnostic_lines", len(p.Lines)).Msg("diagnostics")
			}
		case wire.KindFilePreview:
			if p, ok := ev.Payload.(toollib.FilePreviewEvent); ok {
				log.Debug().Str("file", p.File).Int("rendered_bytes", len(p.Rendered)).Msg("file preview")
			}
		case wire.KindFileDiff:
			if p, ok := ev.Payload.(toollib.FileDiffEvent); ok {
				fmt.Printf("\n%s", p.Diff)
			}
		case wire.KindTurnFinished:
			fmt.Println()
		}
	}
}

func handleApprovalPrompt(mediator *approval.Mediator, req approval.Request) {
	fmt.Printf("\n[approval] %s: %s\nApprove? [y/N/a=always]: ", req.Sender, req.Description)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))

	decision := approval.Reject
	switch line {
	case "y", "yes":
		decision = approval.ApproveOnce
	case "a", "always":
		decision = approval.ApproveForSession
	}
	if err := mediator.Resolve(req.ID, decision); err != nil {
		log.Warn().Err(err).Str("request_id", req.ID).Msg("symbcore: resolve approval")
	}
}

func runTurn(ctx context.Context, loop *agentloop.Loop, cache *store.Cache, sessionID, workdirHash, input string) {
	if err := loop.Run(ctx, input); err != nil {
		log.Error().Err(err).Msg("symbcore: turn failed")
	}
	_ = cache.Touch(sessionID)
	_ = cache.SetWorkdirMeta(workdirHash, store.WorkdirMeta{
		LastSessionID: sessionID,
		ThinkingMode:  string(loop.ThinkingEffort),
	})
}

func runREPL(ctx context.Context, loop *agentloop.Loop, cache *store.Cache, sessionID, workdirHash string) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("symbcore — type a message, or /exit to quit")
	for {
		fmt.Print("\n> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			return
		}
		runTurn(ctx, loop, cache, sessionID, workdirHash, line)
		if ctx.Err() != nil {
			return
		}
	}
}
