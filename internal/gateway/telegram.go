package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/rahul/kuruma/internal/agent"
)

// botAPI is the part of *tgbotapi.BotAPI the gateway uses.
type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	StopReceivingUpdates()
}

type TelegramGateway struct {
	Bot     botAPI
	Brain   agent.Brain
	allowed map[int64]bool
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewTelegramGateway authorises the bot. An empty allowedChats accepts
// every chat.
func NewTelegramGateway(token string, brain agent.Brain, allowedChats []int64, logger *zap.Logger) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram authorisation: %w", err)
	}
	logger = logger.Named("telegram")
	logger.Info("Authorized on account", zap.String("username", bot.Self.UserName))
	return newTelegramGateway(bot, brain, allowedChats, logger), nil
}

func newTelegramGateway(bot botAPI, brain agent.Brain, allowedChats []int64, logger *zap.Logger) *TelegramGateway {
	allowed := make(map[int64]bool, len(allowedChats))
	for _, id := range allowedChats {
		allowed[id] = true
	}
	return &TelegramGateway{Bot: bot, Brain: brain, allowed: allowed, logger: logger}
}

// Start handles each message on its own goroutine so a /stop can reach the
// pilot while a plan is running.
func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := tg.Bot.GetUpdatesChan(u)

	defer tg.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			tg.Bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			chatID := update.Message.Chat.ID
			if len(tg.allowed) > 0 && !tg.allowed[chatID] {
				tg.logger.Warn("Ignoring message from unlisted chat", zap.Int64("chat_id", chatID))
				continue
			}

			tg.wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer tg.wg.Done()
				tg.handle(ctx, msg)
			}(update.Message)
		}
	}
}

func (tg *TelegramGateway) handle(ctx context.Context, msg *tgbotapi.Message) {
	from := ""
	if msg.From != nil {
		from = msg.From.UserName
	}
	tg.logger.Info("Message received", zap.String("from", from), zap.String("text", msg.Text))

	response, err := tg.Brain.Think(ctx, strconv.FormatInt(msg.Chat.ID, 10), msg.Text)
	if err != nil {
		tg.logger.Error("Error thinking", zap.Error(err))
		response = "Something went wrong while planning. Nothing was executed."
	}
	if _, err := tg.Bot.Send(tgbotapi.NewMessage(msg.Chat.ID, response)); err != nil {
		tg.logger.Warn("Failed to send reply", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
	}
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}
	_, err = tg.Bot.Send(tgbotapi.NewMessage(id, text))
	return err
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
