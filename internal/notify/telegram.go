package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"mines-backend/internal/models"
)

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier tells the operators' chats about big wins.
type TelegramNotifier struct {
	bot      Sender
	chatIDs  []int64
	currency string
}

func NewTelegramNotifier(botToken string, chatIDs []int64, currency string) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return NewTelegramNotifierWithSender(bot, chatIDs, currency), nil
}

func NewTelegramNotifierWithSender(bot Sender, chatIDs []int64, currency string) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatIDs: chatIDs, currency: currency}
}

// SessionSettled is not forwarded; operators only hear about big wins.
func (tn *TelegramNotifier) SessionSettled(ctx context.Context, session *models.GameSession) {}

func (tn *TelegramNotifier) BigWin(ctx context.Context, win *models.BigWin) {
	message := fmt.Sprintf(
		"💎 *BIG WIN*\n\n"+
			"👤 *Player:* %s (%s)\n"+
			"🎮 *Game:* %s\n"+
			"💵 *Bet:* %s %s\n"+
			"🏆 *Payout:* %s %s (%sx)\n"+
			"🔗 *Session:* %s",
		escape(win.UserName), escape(win.UserID),
		win.GameType,
		win.BetAmount.StringFixed(2), tn.currency,
		win.WinAmount.StringFixed(2), tn.currency, win.Multiplier.StringFixed(2),
		escape(win.SessionID),
	)
	tn.SendNotification(message)
}

// SendNotification delivers message to every chat without waiting.
func (tn *TelegramNotifier) SendNotification(message string) {
	for _, chatID := range tn.chatIDs {
		msg := tgbotapi.NewMessage(chatID, message)
		msg.ParseMode = tgbotapi.ModeMarkdown

		go func(cid int64) {
			if _, err := tn.bot.Send(msg); err != nil {
				log.Errorf("failed to send telegram message to chat %d: %v", cid, err)
			}
		}(chatID)
	}
}

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}
