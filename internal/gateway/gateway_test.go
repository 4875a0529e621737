package gateway

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// echoBrain replies with the chat and input it saw.
type echoBrain struct {
	mu    sync.Mutex
	seen  []string
	block chan struct{}
}

func (b *echoBrain) Think(_ context.Context, chatID, input string) (string, error) {
	b.mu.Lock()
	b.seen = append(b.seen, chatID+":"+input)
	b.mu.Unlock()
	if input == "long plan" && b.block != nil {
		<-b.block
	}
	if input == "stop" && b.block != nil {
		close(b.block)
		return "Stopping.", nil
	}
	return "ack " + input, nil
}

type fakeBot struct {
	updates chan tgbotapi.Update
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	stopped bool
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeBot) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

func update(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{UserName: "operator"},
	}}
}

func TestTelegram_RepliesAndFiltersChats(t *testing.T) {
	bot := &fakeBot{updates: make(chan tgbotapi.Update, 4)}
	brain := &echoBrain{}
	tg := newTelegramGateway(bot, brain, []int64{42}, zaptest.NewLogger(t))

	bot.updates <- update(42, "forward")
	bot.updates <- update(13, "forward")
	bot.updates <- tgbotapi.Update{}
	close(bot.updates)

	require.NoError(t, tg.Start(context.Background()))

	assert.Equal(t, []string{"ack forward"}, bot.texts())
	assert.Equal(t, []string{"42:forward"}, brain.seen)
}

func TestTelegram_StopReachesBrainWhileBusy(t *testing.T) {
	bot := &fakeBot{updates: make(chan tgbotapi.Update, 4)}
	brain := &echoBrain{block: make(chan struct{})}
	tg := newTelegramGateway(bot, brain, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- tg.Start(ctx) }()

	bot.updates <- update(1, "long plan")
	bot.updates <- update(1, "stop")

	require.Eventually(t, func() bool { return len(bot.texts()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.ElementsMatch(t, []string{"Stopping.", "ack long plan"}, bot.texts())
	assert.True(t, bot.stopped)
}

func TestTelegram_SendValidatesChatID(t *testing.T) {
	bot := &fakeBot{updates: make(chan tgbotapi.Update)}
	tg := newTelegramGateway(bot, &echoBrain{}, nil, zaptest.NewLogger(t))

	require.NoError(t, tg.Send("42", "hello"))
	assert.Error(t, tg.Send("console", "hello"))
	assert.Equal(t, int64(42), bot.sent[0].ChatID)
}

func TestConsole_HandlesLines(t *testing.T) {
	var out bytes.Buffer
	brain := &echoBrain{}
	c := NewConsoleGateway(brain, strings.NewReader("forward\n\nturn left\n"), &out, zaptest.NewLogger(t))

	require.NoError(t, c.Start(context.Background()))

	assert.Contains(t, out.String(), "ack forward")
	assert.Contains(t, out.String(), "ack turn left")
	assert.ElementsMatch(t, []string{"console:forward", "console:turn left"}, brain.seen)
}

type recordingMessenger struct{ got []string }

func (r *recordingMessenger) Start(context.Context) error { return nil }
func (r *recordingMessenger) Stop() error { return nil }
func (r *recordingMessenger) Send(chatID, text string) error {
	r.got = append(r.got, chatID+":"+text)
	return nil
}

func TestRouter(t *testing.T) {
	console, telegram := &recordingMessenger{}, &recordingMessenger{}
	r := Router{Console: console, Telegram: telegram}

	require.NoError(t, r.Send("console", "a"))
	require.NoError(t, r.Send("42", "b"))
	assert.Equal(t, []string{"console:a"}, console.got)
	assert.Equal(t, []string{"42:b"}, telegram.got)

	assert.Error(t, Router{Console: console}.Send("42", "c"))
}
