package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"dayflow/internal/models"
	"dayflow/internal/repositories"
	"dayflow/internal/services"
)

// IntegrationsHandler owns the Telegram surface: account linking and the
// inbound webhook feeding the ingestion pipeline.
type IntegrationsHandler struct {
	tg         *services.TelegramService
	links      repositories.ChatLinkRepository
	users      repositories.UserRepository
	policies   repositories.PolicyRepository
	tasks      repositories.TaskRepository
	ingestion  services.IngestionService
	scheduling services.SchedulingService
	log        *zap.Logger
}

func NewIntegrationsHandler(
	tg *services.TelegramService,
	links repositories.ChatLinkRepository,
	users repositories.UserRepository,
	policies repositories.PolicyRepository,
	tasks repositories.TaskRepository,
	ingestion services.IngestionService,
	scheduling services.SchedulingService,
	logger *zap.Logger,
) *IntegrationsHandler {
	return &IntegrationsHandler{
		tg:         tg,
		links:      links,
		users:      users,
		policies:   policies,
		tasks:      tasks,
		ingestion:  ingestion,
		scheduling: scheduling,
		log:        logger.Named("integrations"),
	}
}

// POST /integrations/telegram/request-link
func (h *IntegrationsHandler) RequestTelegramLink(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	code, err := newLinkCode()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not generate code"})
		return
	}
	link, err := h.links.Create(c.Request.Context(), userID, code, 15*time.Minute)
	if err != nil {
		h.log.Error("link create failed", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create link"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":       link.Code,
		"expires_at": link.ExpiresAt,
		"hint":       "send /link <code> to the bot",
	})
}

// POST /integrations/telegram/webhook
//
// Telegram delivers updates at least once; everything task-producing goes
// through the ingestion ledger, so retries and concurrent deliveries are
// harmless. The webhook always answers 200 to stop redelivery storms.
func (h *IntegrationsHandler) Webhook(c *gin.Context) {
	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.log.Warn("webhook bind failed", zap.Error(err))
		c.Status(http.StatusOK)
		return
	}

	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(c, update.CallbackQuery)
	case update.Message != nil:
		h.handleMessage(c, update.Message)
	}
	c.Status(http.StatusOK)
}

func (h *IntegrationsHandler) handleMessage(c *gin.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	chatID := msg.Chat.ID
	h.log.Info("webhook message", zap.Int64("chat_id", chatID), zap.Int("message_id", msg.MessageID))

	switch {
	case strings.HasPrefix(text, "/start"):
		h.tg.SendMessage(chatID,
			"Hi! Link your account first: get a code in the app settings and send\n<code>/link &lt;code&gt;</code>\n\nAfter that, just write what you need to do and I'll schedule it.")

	case strings.HasPrefix(text, "/link"):
		h.handleLink(c, chatID, strings.TrimSpace(strings.TrimPrefix(text, "/link")))

	case strings.HasPrefix(text, "/scan"):
		h.handleScan(c, chatID)

	case strings.HasPrefix(text, "/tasks"):
		h.handleTaskList(c, chatID)

	case text == "":
		// stickers, photos and other non-text content

	default:
		h.handleTaskMessage(c, chatID, msg.MessageID, text)
	}
}

func (h *IntegrationsHandler) handleLink(c *gin.Context, chatID int64, rawCode string) {
	code, ok := normalizeLinkCode(rawCode)
	if !ok {
		h.tg.SendMessage(chatID, "That code does not look right. Get a fresh one in the app settings.")
		return
	}
	link, err := h.links.UseByCode(c.Request.Context(), code)
	if err != nil {
		h.tg.SendMessage(chatID, "Code invalid or expired. Get a fresh one in the app settings.")
		return
	}
	if err := h.users.SetTelegramChat(c.Request.Context(), link.UserID, chatID); err != nil {
		h.log.Error("chat bind failed", zap.Int64("user_id", link.UserID), zap.Error(err))
		h.tg.SendMessage(chatID, "Something went wrong, try again.")
		return
	}

	// First link seeds default working hours in the user's timezone.
	if _, err := h.policies.FindByOwner(c.Request.Context(), link.UserID); err == repositories.ErrPolicyNotFound {
		tz := "UTC"
		if u, uerr := h.users.FindByID(c.Request.Context(), link.UserID); uerr == nil && u.Timezone != "" {
			tz = u.Timezone
		}
		if perr := h.policies.Upsert(c.Request.Context(), models.DefaultWorkingHours(link.UserID, tz)); perr != nil {
			h.log.Warn("default policy seed failed", zap.Int64("user_id", link.UserID), zap.Error(perr))
		}
	}

	h.tg.SendMessage(chatID, "Linked! Send me anything that needs doing and I'll find a slot for it.")
}

func (h *IntegrationsHandler) handleScan(c *gin.Context, chatID int64) {
	user, err := h.users.FindByTelegramChat(c.Request.Context(), chatID)
	if err != nil {
		h.tg.SendMessage(chatID, "This chat is not linked yet. Send /link <code> first.")
		return
	}
	results, err := h.scheduling.ReconcileDeferred(c.Request.Context(), user.ID)
	if err != nil {
		h.tg.SendMessage(chatID, "Scan failed, try again later.")
		return
	}
	synced, deferred := 0, 0
	for _, r := range results {
		if r.Synced {
			synced++
		}
		if r.Deferred {
			deferred++
		}
	}
	reply := fmt.Sprintf("Scan done: %d event(s) synced.", synced)
	if deferred > 0 {
		reply += fmt.Sprintf(" %d still pending. Reconnect your calendar in settings.", deferred)
	}
	h.tg.SendMessage(chatID, reply)
}

func (h *IntegrationsHandler) handleTaskList(c *gin.Context, chatID int64) {
	user, err := h.users.FindByTelegramChat(c.Request.Context(), chatID)
	if err != nil {
		h.tg.SendMessage(chatID, "This chat is not linked yet. Send /link <code> first.")
		return
	}

	notDone := false
	open, err := h.tasks.FindAll(c.Request.Context(), models.TaskFilter{
		OwnerID: &user.ID, Completed: &notDone,
	})
	if err != nil {
		h.tg.SendMessage(chatID, "Could not load your tasks, try again later.")
		return
	}
	if len(open) == 0 {
		h.tg.SendMessage(chatID, "No open tasks. Send me something to do!")
		return
	}

	const maxListed = 10
	var b strings.Builder
	b.WriteString("<b>Open tasks</b>\n")
	for i, t := range open {
		if i == maxListed {
			b.WriteString(fmt.Sprintf("…and %d more.\n", len(open)-maxListed))
			break
		}
		switch {
		case t.IsScheduled():
			b.WriteString(fmt.Sprintf("• %s (%s", t.Title, t.ScheduledStart.Format("Mon 15:04")))
			if !t.IsSynced() {
				b.WriteString(", sync pending")
			}
			b.WriteString(")\n")
		default:
			b.WriteString(fmt.Sprintf("• %s (unscheduled)\n", t.Title))
		}
	}
	h.tg.SendMessage(chatID, b.String())
}

func (h *IntegrationsHandler) handleTaskMessage(c *gin.Context, chatID int64, messageID int, text string) {
	user, err := h.users.FindByTelegramChat(c.Request.Context(), chatID)
	if err != nil {
		h.tg.SendMessage(chatID, "This chat is not linked yet. Send /link <code> first.")
		return
	}

	key := models.IngestionKey{
		SourceMessageID: strconv.Itoa(messageID),
		SourceChannelID: strconv.FormatInt(chatID, 10),
		WorkspaceID:     strconv.FormatInt(user.ID, 10),
	}
	result, err := h.ingestion.IngestMessage(c.Request.Context(), key, user.ID, text)
	if err != nil {
		h.log.Error("ingestion failed",
			zap.String("source_message_id", key.SourceMessageID), zap.Error(err))
		h.tg.SendMessage(chatID, "I could not process that right now, please resend it.")
		return
	}
	if result.Duplicate {
		// redelivery of something already handled; stay quiet
		return
	}
	h.replyForResult(chatID, result)
}

func (h *IntegrationsHandler) handleCallback(c *gin.Context, cb *tgbotapi.CallbackQuery) {
	h.tg.AnswerCallback(cb.ID)

	parts := strings.Split(cb.Data, ":")
	if len(parts) != 3 || parts[0] != "ingest" {
		return
	}
	recordID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return
	}
	chatID := int64(0)
	if cb.Message != nil {
		chatID = cb.Message.Chat.ID
	}

	result, err := h.ingestion.ResolveConfirmation(c.Request.Context(), recordID, parts[2] == "yes")
	if err != nil {
		h.log.Error("confirmation failed", zap.Int64("record_id", recordID), zap.Error(err))
		h.tg.SendMessage(chatID, "I could not process that right now, please try again.")
		return
	}
	if result.Outcome == models.IngestionDeclined {
		h.tg.SendMessage(chatID, "Dismissed.")
		return
	}
	h.replyForResult(chatID, result)
}

func (h *IntegrationsHandler) replyForResult(chatID int64, result *services.IngestionResult) {
	switch {
	case result.PendingConfirmation:
		title := result.ProposedTitle
		if title == "" {
			title = "that"
		}
		h.tg.SendConfirmPrompt(chatID, title, result.RecordID)

	case result.Outcome == models.IngestionNoTask:
		// nothing actionable in the message; no reply needed

	case result.Outcome == models.IngestionTaskCreated:
		task := result.Task
		switch {
		case result.ScheduleErr != nil && services.SchedulingKindOf(result.ScheduleErr) == services.SchedExhausted:
			h.tg.SendMessage(chatID, fmt.Sprintf(
				"Created \"%s\", but no free slot fits your working hours. It stays unscheduled.", task.Title))
		case result.ScheduleErr != nil:
			h.tg.SendMessage(chatID, fmt.Sprintf(
				"Created \"%s\", scheduling will be retried shortly.", task.Title))
		case result.SyncDeferred:
			h.tg.SendMessage(chatID, fmt.Sprintf(
				"Scheduled \"%s\" for %s. Calendar sync pending, reconnect your calendar in settings.",
				task.Title, task.ScheduledStart.Format("Mon 15:04")))
		default:
			h.tg.SendMessage(chatID, fmt.Sprintf(
				"Scheduled \"%s\" for %s.", task.Title, task.ScheduledStart.Format("Mon 15:04")))
		}
	}
}

func newLinkCode() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

func normalizeLinkCode(s string) (string, bool) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`“”«»<>.,;:()[]{}\\")
	s = strings.ToUpper(strings.TrimSpace(s))

	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') {
			b.WriteRune(r)
		}
	}
	code := b.String()
	if len(code) != 32 {
		return "", false
	}
	return code, true
}
