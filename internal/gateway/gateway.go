// Package gateway connects operators to the pilot.
package gateway

import (
	"context"
	"fmt"
	"strings"
)

// Messenger is an operator channel (Telegram, local console).
type Messenger interface {
	// Start runs the receive loop until ctx is done or the channel fails.
	Start(ctx context.Context) error
	// Send delivers text to one chat.
	Send(chatID string, text string) error
	// Stop ends the receive loop.
	Stop() error
}

// Router sends to whichever gateway owns the chat ID. Console chats are
// named "console"; everything else goes to Telegram.
type Router struct {
	Console  Messenger
	Telegram Messenger
}

func (r Router) Send(chatID string, text string) error {
	target := r.Telegram
	if strings.HasPrefix(chatID, ConsoleChatID) {
		target = r.Console
	}
	if target == nil {
		return fmt.Errorf("no gateway for chat %s", chatID)
	}
	return target.Send(chatID, text)
}
