package assembler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/multi-agent/deepinsight-client/internal/history"
	"github.com/multi-agent/deepinsight-client/internal/part"
	apperrors "github.com/multi-agent/deepinsight-client/pkg/errors"
	"github.com/multi-agent/deepinsight-client/pkg/logger"
	"github.com/multi-agent/deepinsight-client/pkg/util"
)

// Options 构造参数。
type Options struct {
	ConversationID string
	Notifier       Notifier
	// OnChange 历史或状态变化后调用 (不持锁)。
	OnChange func()
}

// Assembler 单会话的流式组装器。同一时刻最多一个进行中的轮次。
type Assembler struct {
	mu sync.Mutex // 保护 state/generation/turn

	conversationID string
	history        *history.Store
	transport      Transport
	notifier       Notifier
	onChange       func()

	state      State
	generation uint64
	turn       *Turn
}

// New 创建组装器。
func New(store *history.Store, transport Transport, opts Options) *Assembler {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NotifierFunc(func(Notice) {})
	}
	return &Assembler{
		conversationID: opts.ConversationID,
		history:        store,
		transport:      transport,
		notifier:       notifier,
		onChange:       opts.OnChange,
		state:          StateIdle,
	}
}

// History 底层历史存储。
func (a *Assembler) History() *history.Store { return a.history }

// State 当前状态。
func (a *Assembler) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Generation 当前代数。每次提交与取消都会递增。
func (a *Assembler) Generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation
}

// Current 最近一次轮次, 可能已结束。
func (a *Assembler) Current() *Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turn
}

// Submit 追加问题并开始新轮次。已有进行中的轮次时返回 ErrTurnInFlight。
func (a *Assembler) Submit(ctx context.Context, req TurnRequest) (*Turn, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "Assembler.Submit", "empty question")
	}

	a.mu.Lock()
	if a.state.InFlight() {
		a.mu.Unlock()
		return nil, apperrors.Wrap(apperrors.ErrTurnInFlight, "Assembler.Submit", "turn in flight")
	}
	question := a.history.AppendQuestion(req.Question, req.DocIDs)
	turn := a.beginLocked(ctx, question.ID, req)
	a.mu.Unlock()

	a.changed()
	return turn, nil
}

// Resubmit 截断问题之后的历史, 用同一问题重新开始轮次 (失败重试或重新生成)。
func (a *Assembler) Resubmit(ctx context.Context, questionID string, prefs Preferences) (*Turn, error) {
	a.mu.Lock()
	if a.state.InFlight() {
		a.mu.Unlock()
		return nil, apperrors.Wrap(apperrors.ErrTurnInFlight, "Assembler.Resubmit", "turn in flight")
	}
	question, ok := a.history.Get(questionID)
	if !ok {
		a.mu.Unlock()
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "Assembler.Resubmit", "question %s", questionID)
	}
	if !question.IsUser() {
		a.mu.Unlock()
		return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "Assembler.Resubmit", "message %s is not a question", questionID)
	}
	if _, err := a.history.RemoveMessagesAfter(questionID); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.markQuestionLocked(ctx, questionID, history.StatusPending)
	req := TurnRequest{Question: question.Text(), DocIDs: question.DocIDs, Preferences: prefs}
	turn := a.beginLocked(ctx, questionID, req)
	a.mu.Unlock()

	a.changed()
	return turn, nil
}

// beginLocked 递增代数并启动泵协程。
func (a *Assembler) beginLocked(ctx context.Context, questionID string, req TurnRequest) *Turn {
	a.generation++
	req.Preferences = req.Preferences.Clone()
	turn := newTurn(uuid.NewString(), questionID, a.generation, req)

	turnCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	turn.cancel = cancel
	a.turn = turn
	a.state = StateSending

	log := logger.FromContext(ctx).With(
		logger.FieldConversationID, a.conversationID,
		logger.FieldTurnID, turn.ID,
		logger.FieldGeneration, turn.Generation,
	)
	turnCtx = logger.WithContext(turnCtx, log)
	log.Info("assembler: turn submitted", logger.FieldMessageID, questionID)

	sreq := StreamRequest{
		ConversationID: a.conversationID,
		TurnID:         turn.ID,
		QuestionID:     questionID,
		Question:       req.Question,
		DocIDs:         append([]string(nil), req.DocIDs...),
		DataSources:    req.Preferences.DataSources,
	}
	util.SafeGo(func() { a.pump(turnCtx, turn, sreq) })
	return turn
}

// Cancel 中止进行中的轮次: 关闭流, 递增代数, 助手消息置为 aborted。
// 没有进行中的轮次时返回 false。
func (a *Assembler) Cancel() bool {
	a.mu.Lock()
	if !a.state.InFlight() || a.turn == nil {
		a.mu.Unlock()
		return false
	}
	turn := a.turn
	a.generation++
	a.state = StateAborted
	a.freezeAnswersLocked(turn, history.StatusAborted)
	if len(turn.answerIDs) == 0 {
		// 尚未收到任何回复, 问题保留为 failed 以便 Resubmit
		a.markQuestionLocked(context.Background(), turn.QuestionID, history.StatusFailed)
	}
	stream, cancel := turn.stream, turn.cancel
	outcome := a.outcomeLocked(turn, StateAborted, apperrors.ErrCancelled)
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		_ = stream.Close()
	}
	logger.Info("assembler: turn cancelled",
		logger.FieldConversationID, a.conversationID,
		logger.FieldTurnID, turn.ID,
		logger.FieldGeneration, turn.Generation,
	)
	turn.finish(outcome)
	a.changed()
	return true
}

// pump 打开流并逐帧消费, 直到流结束、失败或代数过期。
func (a *Assembler) pump(ctx context.Context, turn *Turn, req StreamRequest) {
	log := logger.FromContext(ctx)

	stream, err := a.transport.Open(ctx, req)
	if err != nil {
		a.fail(ctx, turn, err)
		return
	}
	defer stream.Close()

	a.mu.Lock()
	if !a.currentLocked(turn) {
		a.mu.Unlock()
		log.Debug("assembler: stream opened for stale turn, closing")
		return
	}
	turn.stream = stream
	a.mu.Unlock()

	for {
		env, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			a.complete(ctx, turn)
			return
		}
		if err != nil {
			a.fail(ctx, turn, err)
			return
		}
		if !a.apply(ctx, turn, env) {
			log.Debug("assembler: turn superseded, pump exiting")
			return
		}
	}
}

// apply 合并一帧。返回 false 表示轮次已过期, 泵应退出。
func (a *Assembler) apply(ctx context.Context, turn *Turn, env part.Envelope) bool {
	a.mu.Lock()
	if !a.currentLocked(turn) {
		a.mu.Unlock()
		logger.FromContext(ctx).Debug("assembler: stale envelope dropped",
			logger.FieldMessageID, env.ID)
		return false
	}

	notify := false
	if a.state == StateSending {
		a.state = StateStreaming
		a.markQuestionLocked(ctx, turn.QuestionID, history.StatusSent)
		notify = true
	}

	// 后端回显的用户消息已在本地存在
	if part.NormalizeRole(env.Role) == part.RoleUser {
		a.mu.Unlock()
		if notify {
			a.changed()
		}
		return true
	}

	parts := env.Parts()
	for _, p := range parts {
		if _, ok := p.(part.ResultPart); ok {
			turn.startNew = true
		}
	}

	msg := history.Message{
		ID:        a.answerIDLocked(turn, env.ID),
		Role:      part.RoleAssistant,
		Parts:     parts,
		CreatedAt: env.Time(),
		DocIDs:    env.DocIDs,
		Reference: env.Reference,
		Status:    history.StatusStreaming,
		Seq:       env.Seq,
	}
	outcome := a.history.MergeAnswer(msg)
	if outcome == history.MergeAppended {
		turn.answerIDs = append(turn.answerIDs, msg.ID)
	}
	a.mu.Unlock()

	if outcome == history.MergeFrozen {
		logger.FromContext(ctx).Debug("assembler: envelope for frozen message dropped",
			logger.FieldMessageID, msg.ID)
	}
	if notify || outcome.Changed() {
		a.changed()
	}
	return true
}

// answerIDLocked 无 id 的帧映射到本轮次的同一条助手消息。
func (a *Assembler) answerIDLocked(turn *Turn, id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	if turn.fallbackID == "" {
		turn.fallbackID = uuid.NewString()
	}
	return turn.fallbackID
}

// complete 流正常结束。
func (a *Assembler) complete(ctx context.Context, turn *Turn) {
	a.mu.Lock()
	if !a.currentLocked(turn) {
		a.mu.Unlock()
		return
	}
	if a.state == StateSending {
		a.markQuestionLocked(ctx, turn.QuestionID, history.StatusSent)
	}
	a.state = StateCompleted
	a.freezeAnswersLocked(turn, history.StatusCompleted)
	outcome := a.outcomeLocked(turn, StateCompleted, nil)
	a.mu.Unlock()

	logger.FromContext(ctx).Info("assembler: turn completed",
		logger.FieldCount, len(outcome.AnswerIDs))
	turn.finish(outcome)
	a.changed()
}

// fail 传输失败: 问题置 failed 保留, 助手消息冻结为 failed, 发布一条通知。
func (a *Assembler) fail(ctx context.Context, turn *Turn, cause error) {
	a.mu.Lock()
	if !a.currentLocked(turn) {
		a.mu.Unlock()
		logger.FromContext(ctx).Debug("assembler: stale stream error ignored",
			logger.FieldError, cause)
		return
	}
	err := transportError(cause)
	a.state = StateFailed
	a.markQuestionLocked(ctx, turn.QuestionID, history.StatusFailed)
	a.freezeAnswersLocked(turn, history.StatusFailed)
	outcome := a.outcomeLocked(turn, StateFailed, err)
	stream := turn.stream
	a.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	logger.FromContext(ctx).Warn("assembler: turn failed", logger.FieldError, err)
	a.notifier.Notify(Notice{
		ConversationID: a.conversationID,
		TurnID:         turn.ID,
		QuestionID:     turn.QuestionID,
		Message:        err.Error(),
		Err:            err,
		At:             time.Now(),
	})
	turn.finish(outcome)
	a.changed()
}

// currentLocked 轮次仍是当前代且未进入终态。
func (a *Assembler) currentLocked(turn *Turn) bool {
	return a.turn == turn && a.generation == turn.Generation && a.state.InFlight()
}

// markQuestionLocked 问题可能已被外部从历史中移除, 失败只记录。
func (a *Assembler) markQuestionLocked(ctx context.Context, id string, status history.Status) {
	if err := a.history.MarkQuestion(id, status); err != nil {
		logger.FromContext(ctx).Warn("assembler: mark question failed",
			logger.FieldMessageID, id,
			logger.FieldStatus, string(status),
			logger.FieldError, err)
	}
}

func (a *Assembler) freezeAnswersLocked(turn *Turn, status history.Status) {
	for _, id := range turn.answerIDs {
		if err := a.history.Freeze(id, status); err != nil && !errors.Is(err, apperrors.ErrFrozen) {
			logger.Debug("assembler: freeze answer failed",
				logger.FieldMessageID, id, logger.FieldError, err)
		}
	}
}

func (a *Assembler) outcomeLocked(turn *Turn, state State, err error) Outcome {
	var msg string
	if err != nil {
		msg = err.Error()
	}
	return Outcome{
		TurnID:               turn.ID,
		QuestionID:           turn.QuestionID,
		AnswerIDs:            append([]string(nil), turn.answerIDs...),
		State:                state,
		StartNewConversation: turn.startNew,
		Error:                msg,
		Err:                  err,
	}
}

func (a *Assembler) changed() {
	if a.onChange != nil {
		a.onChange()
	}
}

// transportError 保证错误链上带有 ErrTransport 与错误码。
func transportError(err error) error {
	if !errors.Is(err, apperrors.ErrTransport) {
		err = fmt.Errorf("%w: %w", apperrors.ErrTransport, err)
	}
	if apperrors.CodeOf(err) != "" {
		return err
	}
	return apperrors.WithCode(err, "Assembler.pump", "TRANSPORT", "stream failed")
}
