package alert

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// telegramTextLimit keeps a margin under Telegram's 4096-character cap.
const telegramTextLimit = 4000

// TelegramSender delivers alert text over the Telegram Bot API. The bot
// carries no poller: it only ever sends. The same value can back the logx
// Telegram sink, both sides speak SendText.
type TelegramSender struct {
	bot *tele.Bot
}

func NewTelegramSender(token string) (*TelegramSender, error) {
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b}, nil
}

func (t *TelegramSender) SendText(ctx context.Context, chatID int64, text string) error {
	if t == nil || t.bot == nil || chatID == 0 {
		return nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, telegramTextLimit) {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		if _, err := t.bot.Send(chat, chunk); err != nil {
			return err
		}
	}
	return nil
}

// splitText cuts text into chunks of at most limit runes, preferring to break
// on a newline so multi-line alerts stay readable.
func splitText(s string, limit int) []string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return []string{s}
	}
	var out []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			out = append(out, string(runes))
			break
		}
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunk := strings.TrimRight(string(runes[:cut]), "\n")
		if chunk != "" {
			out = append(out, chunk)
		}
		runes = runes[cut:]
	}
	return out
}
