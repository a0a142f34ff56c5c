package notifier

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

type TelegramNotifier struct {
	Token   string
	ChatID  string
	Retries int
	Delay   time.Duration
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{Token: token, ChatID: chatID, Retries: 3, Delay: 2 * time.Second}
}

var _ Notifier = (*TelegramNotifier)(nil)

func (t *TelegramNotifier) Send(message string) error {
	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.Token)
	resp, err := http.PostForm(apiURL, url.Values{
		"chat_id": {t.ChatID},
		"text":    {message},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

// SendWithRetry retries Send up to Retries times, pausing Delay between
// attempts, since transient Telegram API failures shouldn't drop an alert.
func (t *TelegramNotifier) SendWithRetry(msg string) error {
	var err error
	for attempt := 1; attempt <= t.Retries; attempt++ {
		if err = t.Send(msg); err == nil {
			return nil
		}
		if attempt < t.Retries {
			time.Sleep(t.Delay)
		}
	}
	return err
}

// RetryWithNotification runs action and, on failure, sends an alert
// describing it — used around best-effort gateway calls where the caller
// wants an operator heads-up but not a hard failure.
func (t *TelegramNotifier) RetryWithNotification(action func() error, description string) error {
	if err := action(); err != nil {
		_ = t.SendWithRetry(fmt.Sprintf("%s failed: %v", description, err))
		return err
	}
	return nil
}
