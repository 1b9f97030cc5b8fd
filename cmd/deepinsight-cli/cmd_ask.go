package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/multi-agent/deepinsight-client/internal/assembler"
	"github.com/multi-agent/deepinsight-client/internal/config"
	"github.com/multi-agent/deepinsight-client/internal/history"
	"github.com/multi-agent/deepinsight-client/internal/prefs"
	"github.com/multi-agent/deepinsight-client/internal/session"
	"github.com/multi-agent/deepinsight-client/internal/timeline"
	"github.com/multi-agent/deepinsight-client/internal/transport"
)

var (
	askConversation string
	askDocIDs       []string
	askSources      []string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a research question and stream the answer",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

var showCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Render a stored conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		r, err := newRenderer(width)
		if err != nil {
			return err
		}
		m := newSessions(nil, nil)
		defer m.Close(context.Background())
		conv, err := m.Open(ctx, args[0])
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), r.conversation(conv.View()))
		return nil
	},
}

func init() {
	askCmd.Flags().StringVarP(&askConversation, "conversation", "c", "", "Continue an existing conversation")
	askCmd.Flags().StringSliceVar(&askDocIDs, "doc", nil, "Restrict retrieval to document ids")
	askCmd.Flags().StringSliceVar(&askSources, "source", nil, "Data sources (default from DATA_SOURCES)")
}

// newSessions 单进程会话管理器, 不落库。
func newSessions(onChange func(session.View), onNotice func(assembler.Notice)) *session.Manager {
	registry, err := config.LoadToolRegistry(cfg.ToolRegistryPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, noticeStyle.Render("tool registry: "+err.Error()))
	}
	sources := askSources
	if len(sources) == 0 {
		sources = cfg.DefaultDataSources
	}
	preferences := prefs.NewManager(nil, sources)
	return session.NewManager(session.Deps{
		Transport:   transport.New(cfg),
		Backend:     newBackend(),
		Preferences: preferences,
		Timeline: timeline.NewBuilder(timeline.Options{
			Registry:     registry,
			SnippetWidth: cfg.SnippetWidth,
			AnomalyWidth: cfg.AnomalyWidth,
		}),
		MergeMode: history.ParseMergeMode(cfg.MergeMode),
		OnChange:  onChange,
		OnNotice:  onNotice,
	})
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	r, err := newRenderer(width)
	if err != nil {
		return err
	}
	p := &progress{w: out}
	m := newSessions(p.update, func(n assembler.Notice) {
		fmt.Fprintln(out, noticeStyle.Render("✗ "+n.Message))
	})
	defer m.Close(context.Background())

	var conv *session.Conversation
	if askConversation != "" {
		conv, err = m.Open(ctx, askConversation)
	} else {
		id := uuid.NewString()
		if _, err := newBackend().CreateConversation(ctx, id, runewidth.Truncate(args[0], 40, "…")); err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		conv, err = m.Create(id)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(out, questionStyle.Render(args[0]))
	turn, err := conv.SubmitQuestion(ctx, args[0], askDocIDs)
	if err != nil {
		return err
	}
	if turn == nil {
		return fmt.Errorf("conversation %s already has a turn in flight", conv.ID())
	}

	select {
	case <-turn.Done():
	case <-sigCtx.Done():
		conv.Cancel()
		<-turn.Done()
	}
	outcome := turn.Outcome()
	p.flush(conv.View())

	switch outcome.State {
	case assembler.StateCompleted:
		if last, ok := conv.View().Last(); ok && last.Report != nil {
			fmt.Fprint(out, r.reportText(*last.Report))
		}
	case assembler.StateAborted:
		fmt.Fprintln(out, dimStyle.Render("cancelled"))
	case assembler.StateFailed:
		return fmt.Errorf("turn failed: %w", outcome.Err)
	}
	if outcome.StartNewConversation {
		fmt.Fprintln(out, dimStyle.Render("the assistant suggests starting a new conversation"))
	}
	fmt.Fprintln(out, dimStyle.Render("conversation: "+conv.ID()))
	return nil
}

// progress 流式打印时间线; 只输出已稳定的行 (最后一行在流式期间仍可能增长)。
type progress struct {
	mu      sync.Mutex
	w       io.Writer
	msgID   string
	printed int
}

func (p *progress) update(v session.View) {
	p.print(v, v.TurnState.InFlight())
}

func (p *progress) flush(v session.View) {
	p.print(v, false)
}

func (p *progress) print(v session.View, streaming bool) {
	last, ok := v.Last()
	if !ok || last.IsUser() || last.Timeline == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if last.ID != p.msgID {
		p.msgID = last.ID
		p.printed = 0
	}
	lines := timelineLines(*last.Timeline)
	if streaming && len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}
	for _, line := range lines[min(p.printed, len(lines)):] {
		fmt.Fprintln(p.w, line)
	}
	p.printed = max(p.printed, len(lines))
}
