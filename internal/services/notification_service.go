package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"dayflow/internal/models"
	"dayflow/internal/repositories"
)

// NotificationService tells the user about conditions that need their
// input: a calendar that must be reconnected, or a task that could not be
// placed anywhere. Delivery goes to email and, when linked, to chat.
type NotificationService interface {
	CalendarReauthNeeded(ctx context.Context, ownerID int64)
	ScheduleExhausted(ctx context.Context, task *models.Task)
}

type notificationService struct {
	dialer   *gomail.Dialer
	from     string
	users    repositories.UserRepository
	telegram *TelegramService
	log      *zap.Logger
}

func NewNotificationService(
	smtpHost string, smtpPort int, smtpUser, smtpPassword, fromEmail string,
	users repositories.UserRepository,
	telegram *TelegramService,
	logger *zap.Logger,
) NotificationService {
	var dialer *gomail.Dialer
	if smtpHost != "" {
		dialer = gomail.NewDialer(smtpHost, smtpPort, smtpUser, smtpPassword)
	}
	return &notificationService{
		dialer:   dialer,
		from:     fromEmail,
		users:    users,
		telegram: telegram,
		log:      logger.Named("notify"),
	}
}

func (s *notificationService) CalendarReauthNeeded(ctx context.Context, ownerID int64) {
	user, err := s.users.FindByID(ctx, ownerID)
	if err != nil {
		s.log.Warn("user lookup failed", zap.Int64("owner_id", ownerID), zap.Error(err))
		return
	}

	const chatText = "Calendar sync is pending: your calendar connection expired. " +
		"Reconnect it in settings and pending tasks will sync automatically."
	if user.TelegramChatID != nil {
		s.telegram.SendMessage(*user.TelegramChatID, chatText)
	}

	s.sendEmail(user.Email, "Reconnect your calendar", `
		<h3>Calendar sync pending</h3>
		<p>Your calendar authorization has expired. Scheduled tasks are kept and
		will be synced once you reconnect your calendar in settings.</p>
	`)
}

func (s *notificationService) ScheduleExhausted(ctx context.Context, task *models.Task) {
	user, err := s.users.FindByID(ctx, task.OwnerID)
	if err != nil {
		s.log.Warn("user lookup failed", zap.Int64("owner_id", task.OwnerID), zap.Error(err))
		return
	}

	if user.TelegramChatID != nil {
		s.telegram.SendMessage(*user.TelegramChatID,
			fmt.Sprintf("No free slot found for \"%s\" within your working hours. "+
				"It stays unscheduled; free up time or extend the due date.", task.Title))
	}

	s.sendEmail(user.Email, "Task could not be scheduled", fmt.Sprintf(`
		<h3>No slot available</h3>
		<p>The task <strong>%s</strong> did not fit into your working hours
		before its due date. It remains unscheduled.</p>
	`, task.Title))
}

func (s *notificationService) sendEmail(to, subject, body string) {
	if s.dialer == nil || to == "" {
		return
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		s.log.Warn("email send failed", zap.String("to", to), zap.Error(err))
	}
}
