// Package agent contains the polling core: the per-cycle engine that diffs
// Instagram threads against the watermark and drives outbound replies, and
// the scheduler loop that decides when cycles run.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xpanddigital/CrateHQ/internal/backend"
	"github.com/xpanddigital/CrateHQ/internal/instagram"
	"github.com/xpanddigital/CrateHQ/internal/watermark"
)

// defaultLookback bounds how far back a thread is inspected. Messages older
// than the watermark beyond this window are accepted as lost.
const defaultLookback = 20

// BackendAPI is the slice of the CrateHQ client the cycle needs.
type BackendAPI interface {
	ForwardMessage(ctx context.Context, msg backend.InboundMessage) error
	FetchPendingReplies(ctx context.Context, accountID string) ([]backend.PendingReply, error)
	ConfirmSent(ctx context.Context, pendingMessageID, igMessageID string) error
	SendHeartbeat(ctx context.Context, hb backend.Heartbeat) error
}

type Engine struct {
	// Client is re-fetched every cycle so session recovery swaps are
	// transparent.
	Client    func() instagram.Client
	Backend   BackendAPI
	AccountID string
	Lookback  int
	Logger    *slog.Logger

	// now supplies the fallback timestamp for messages without one.
	now func() time.Time
}

func NewEngine(client func() instagram.Client, api BackendAPI, accountID string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Client:    client,
		Backend:   api,
		AccountID: accountID,
		Lookback:  defaultLookback,
		Logger:    logger,
		now:       time.Now,
	}
}

// RunCycle executes one full unit of work and mutates wm in place. Counts
// are reported back for the heartbeat. Session-invalid and verification
// signals abort the cycle so the scheduler can run recovery; per-message and
// per-reply failures are logged and skipped.
func (e *Engine) RunCycle(ctx context.Context, wm watermark.Map) (found, sent int, err error) {
	cl := e.Client()

	threads, err := cl.DirectThreads(ctx, instagram.ThreadFilterUnread)
	if err != nil {
		return 0, 0, err
	}
	e.Logger.Info("unread_threads_fetched", "count", len(threads))

	lookback := e.Lookback
	if lookback <= 0 {
		lookback = defaultLookback
	}

	for _, thread := range threads {
		messages, err := cl.DirectMessages(ctx, thread.ID, lookback)
		if err != nil {
			return found, sent, err
		}
		if len(messages) == 0 {
			continue
		}

		newMessages := collectNew(messages, wm[thread.ID])
		if len(newMessages) == 0 {
			continue
		}
		found += len(newMessages)
		e.Logger.Info("new_messages_found", "thread_id", thread.ID, "count", len(newMessages))

		for _, msg := range newMessages {
			payload := e.buildPayload(thread, msg)
			if err := e.Backend.ForwardMessage(ctx, payload); err != nil {
				// Not retried within the cycle; the watermark advances anyway.
				e.Logger.Warn("forward_failed", "thread_id", thread.ID, "message_id", msg.ID, "error", err.Error())
			}
		}

		// Watermark moves to the newest fetched id, independent of forward
		// success.
		wm[thread.ID] = messages[0].ID
	}

	pending, err := e.Backend.FetchPendingReplies(ctx, e.AccountID)
	if err != nil {
		e.Logger.Warn("pending_replies_fetch_failed", "error", err.Error())
		pending = nil
	}
	e.Logger.Info("pending_replies_fetched", "count", len(pending))

	for _, item := range pending {
		if item.ID == "" || item.ThreadID == "" {
			e.Logger.Warn("pending_reply_malformed", "pending_id", item.ID)
			continue
		}
		result, err := cl.DirectAnswer(ctx, item.ThreadID, item.MessageText)
		if err != nil {
			if errors.Is(err, instagram.ErrLoginRequired) || instagram.IsFatalSignal(err) {
				return found, sent, err
			}
			e.Logger.Error("reply_send_failed", "pending_id", item.ID, "thread_id", item.ThreadID, "error", err.Error())
			continue
		}
		igMessageID := ""
		if result != nil {
			igMessageID = result.ID
		}
		if err := e.Backend.ConfirmSent(ctx, item.ID, igMessageID); err != nil {
			// The reply went out; an unconfirmed send is simply not confirmed.
			e.Logger.Warn("confirm_sent_failed", "pending_id", item.ID, "error", err.Error())
		}
		sent++
		e.Logger.Info("reply_sent", "thread_id", item.ThreadID, "pending_id", item.ID)
	}

	return found, sent, nil
}

// collectNew walks newest-to-oldest until the watermark id, then returns the
// collected set reversed into chronological order.
func collectNew(messages []instagram.Message, lastSeenID string) []instagram.Message {
	var collected []instagram.Message
	for _, msg := range messages {
		if lastSeenID != "" && msg.ID == lastSeenID {
			break
		}
		collected = append(collected, msg)
	}
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected
}

func (e *Engine) buildPayload(thread instagram.Thread, msg instagram.Message) backend.InboundMessage {
	senderUsername, senderFullName := "", ""
	for _, u := range thread.Users {
		if u.PK == msg.UserID {
			senderUsername = u.Username
			senderFullName = u.FullName
			break
		}
	}

	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = e.now().UTC()
	}

	itemType := msg.ItemType
	if itemType == "" {
		itemType = "text"
	}

	var mediaURL *string
	if u := msg.Media.URL(); u != "" {
		mediaURL = &u
	}

	return backend.InboundMessage{
		AccountID:      e.AccountID,
		ThreadID:       thread.ID,
		SenderUsername: senderUsername,
		SenderFullName: senderFullName,
		MessageText:    msg.Text,
		MessageID:      msg.ID,
		Timestamp:      timestamp.Format(time.RFC3339),
		ItemType:       itemType,
		MediaURL:       mediaURL,
	}
}
