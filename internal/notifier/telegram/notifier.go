package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/bookfeed-bot/bookfeed/internal/delivery"
	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
	"github.com/bookfeed-bot/bookfeed/internal/gamification"
	"github.com/bookfeed-bot/bookfeed/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFIER IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// Notifier delivers rendered pages over the Telegram Bot API. It implements
// delivery.Notifier: the user ID doubles as the Telegram chat ID.
type Notifier struct {
	client *Client
	logger *slog.Logger
}

// NewNotifier creates a Notifier on top of a Client.
func NewNotifier(client *Client, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{client: client, logger: logger}
}

// Deliver sends each page artifact as a document, the first one carrying the
// range caption, then a summary message when the batch finished the book or
// unlocked something. Blocked users and missing chats are permanent failures;
// the delivery retrier must not replay them.
func (n *Notifier) Deliver(ctx context.Context, d delivery.Delivery) error {
	chatID := int64(d.User.ID)

	for i, artifact := range d.Artifacts {
		params := SendDocumentParams{
			ChatID:   chatID,
			FileName: pageFileName(d.Document, artifact.Page),
			Data:     artifact.Data,
		}
		if i == 0 {
			params.Caption = rangeCaption(d)
			params.ParseMode = "HTML"
		} else {
			params.DisableNotification = true
		}

		if _, err := n.client.SendDocument(ctx, params); err != nil {
			return classify(fmt.Errorf("page %d: %w", artifact.Page, err))
		}
	}

	if summary := summaryMessage(d); summary != "" {
		if _, err := n.client.SendHTML(ctx, chatID, summary); err != nil {
			// Pages already reached the reader; a lost summary is not
			// worth replaying the whole batch.
			n.logger.Warn("summary message failed",
				"user_id", chatID,
				"error", err,
			)
		}
	}

	return nil
}

func classify(err error) error {
	if IsUserBlocked(err) || IsChatNotFound(err) {
		return retry.Permanent(err)
	}
	if !IsRetryable(err) {
		return retry.Permanent(err)
	}
	return err
}

// ─────────────────────────────────────────────────────────────────────────────
// Message formatting
// ─────────────────────────────────────────────────────────────────────────────

func rangeCaption(d delivery.Delivery) string {
	title := html.EscapeString(d.Document.Title)
	if d.FromPage == d.ToPage {
		return fmt.Sprintf("📖 <b>%s</b>\nPage %d of %d", title, d.FromPage, d.Document.PageCount)
	}
	return fmt.Sprintf("📖 <b>%s</b>\nPages %d–%d of %d", title, d.FromPage, d.ToPage, d.Document.PageCount)
}

func pageFileName(doc *reading.Document, page int) string {
	base := strings.TrimSuffix(doc.Title, ".pdf")
	base = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, base)
	if base == "" {
		base = "book"
	}
	return fmt.Sprintf("%s - p%03d.pdf", base, page)
}

// summaryMessage builds the congratulation text for completions, level-ups
// and unlocked achievements. Empty when the batch was an ordinary advance.
func summaryMessage(d delivery.Delivery) string {
	var b strings.Builder

	if d.Completed {
		b.WriteString(fmt.Sprintf("🎉 You finished <b>%s</b>!", html.EscapeString(d.Document.Title)))
		if d.Deltas.CompletionBonus {
			b.WriteString(fmt.Sprintf("\n⭐ +%d completion bonus", gamification.CompletionBonus))
		}
	}

	if d.Deltas.LevelAfter > d.Deltas.LevelBefore {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("🆙 Level up! You are now level %d", int(d.Deltas.LevelAfter)))
	}

	for _, key := range d.Deltas.AchievementsUnlocked {
		if a, ok := reading.AchievementByKey(key); ok {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(fmt.Sprintf("%s Achievement unlocked: <b>%s</b> (+%d)", a.Icon, html.EscapeString(a.Name), int(a.Points)))
		}
	}

	return b.String()
}
