package usecases

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"project_wainbox/internal/entities"
	"project_wainbox/internal/interfaces"
)

// DispatchOutcome describes what a dispatch ended up doing
type DispatchOutcome struct {
	Continued           bool
	StartedAutomationID int64
	Err                 error
}

// DispatchHandle lets callers (tests, shutdown) wait for a detached dispatch
type DispatchHandle struct {
	done    chan struct{}
	outcome DispatchOutcome
}

// Wait blocks until the dispatch has finished. A nil handle returns at once.
func (h *DispatchHandle) Wait() DispatchOutcome {
	if h == nil {
		return DispatchOutcome{}
	}
	<-h.done
	return h.outcome
}

// AutomationDispatcher hands new inbound text to the flow engine: an active
// session gets the text as input, otherwise the first keyword match starts.
type AutomationDispatcher struct {
	automations interfaces.AutomationStore
	engine      interfaces.AutomationEngine
	timeout     time.Duration
	log         *slog.Logger
	inflight    sync.WaitGroup
}

func NewAutomationDispatcher(automations interfaces.AutomationStore, engine interfaces.AutomationEngine, timeout time.Duration, log *slog.Logger) *AutomationDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &AutomationDispatcher{
		automations: automations,
		engine:      engine,
		timeout:     timeout,
		log:         log.With(slog.String("service", "automation")),
	}
}

// Eligible reports whether msg may reach the automation engine
func Eligible(msg *entities.Message) bool {
	return msg != nil && !msg.FromMe && msg.Type == entities.MessageText && strings.TrimSpace(msg.Content) != ""
}

// Dispatch runs detached from ctx's cancellation and returns immediately.
// It returns nil when msg is not eligible.
func (d *AutomationDispatcher) Dispatch(ctx context.Context, conn *entities.Connection, conv *entities.Conversation, msg *entities.Message) *DispatchHandle {
	if !Eligible(msg) {
		return nil
	}
	h := &DispatchHandle{done: make(chan struct{})}
	ctx = context.WithoutCancel(ctx)

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer close(h.done)

		runCtx := ctx
		if d.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		h.outcome = d.run(runCtx, conn, conv, msg)
		if h.outcome.Err != nil {
			d.log.Error("automation dispatch failed",
				slog.String("instance", conn.InstanceName),
				slog.Int64("conversation_id", conv.ID),
				slog.String("message_id", msg.ProviderMessageID),
				slog.Any("error", h.outcome.Err))
		}
	}()
	return h
}

// Drain waits for in-flight dispatches or until ctx is done
func (d *AutomationDispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *AutomationDispatcher) run(ctx context.Context, conn *entities.Connection, conv *entities.Conversation, msg *entities.Message) DispatchOutcome {
	session, err := d.automations.ActiveSession(ctx, conv.ID)
	if err != nil {
		return DispatchOutcome{Err: err}
	}
	if session != nil {
		res, err := d.engine.ContinueSession(ctx, conv.ID, msg.Content)
		if err == nil && res.Success {
			return DispatchOutcome{Continued: true}
		}
		d.log.Warn("session did not accept input, evaluating triggers",
			slog.Int64("conversation_id", conv.ID),
			slog.Int64("session_id", session.ID),
			slog.String("engine_error", res.Error),
			slog.Any("error", err))
	}

	autos, err := d.automations.ListTriggerable(ctx, conn.ID)
	if err != nil {
		return DispatchOutcome{Err: err}
	}
	text := strings.ToLower(strings.TrimSpace(msg.Content))
	for i := range autos {
		if !MatchesAutomation(&autos[i], text) {
			continue
		}
		res, err := d.engine.StartAutomation(ctx, autos[i].ID, conv.ID, strings.TrimSpace(msg.Content))
		if err == nil && !res.Success && res.Error != "" {
			d.log.Warn("automation reported failure",
				slog.Int64("automation_id", autos[i].ID),
				slog.String("engine_error", res.Error))
		}
		return DispatchOutcome{StartedAutomationID: autos[i].ID, Err: err}
	}
	return DispatchOutcome{}
}

// MatchesAutomation tests normalized text against any of a's keywords
func MatchesAutomation(a *entities.Automation, text string) bool {
	for _, kw := range a.Keywords {
		if MatchKeyword(a.MatchMode, kw, text) {
			return true
		}
	}
	return false
}

// MatchKeyword compares one keyword with text. Both sides are lowercased
// and trimmed; unknown modes behave like exact.
func MatchKeyword(mode entities.MatchMode, keyword, text string) bool {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	text = strings.ToLower(strings.TrimSpace(text))
	if kw == "" {
		return false
	}
	switch mode {
	case entities.MatchContains:
		return strings.Contains(text, kw)
	case entities.MatchStartsWith:
		return strings.HasPrefix(text, kw)
	default:
		return text == kw
	}
}
