package gateway

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/rahul/kuruma/internal/agent"
	"github.com/rahul/kuruma/internal/observability"
)

const ConsoleChatID = "console"

// ConsoleGateway reads instructions line by line from a terminal or pipe.
type ConsoleGateway struct {
	Brain  agent.Brain
	in     io.Reader
	out    io.Writer
	prompt bool
	logger *zap.Logger

	mu sync.Mutex
	wg sync.WaitGroup
}

func NewConsoleGateway(brain agent.Brain, in io.Reader, out io.Writer, logger *zap.Logger) *ConsoleGateway {
	prompt := false
	if f, ok := in.(*os.File); ok {
		prompt = observability.IsTerminal(f)
	}
	return &ConsoleGateway{Brain: brain, in: in, out: out, prompt: prompt, logger: logger.Named("console")}
}

// Start returns when input ends or ctx is done. Lines are handled
// concurrently so "stop" interrupts a running plan.
func (c *ConsoleGateway) Start(ctx context.Context) error {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()

	defer c.wg.Wait()
	c.showPrompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errs:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(line)
			if line == "" {
				c.showPrompt()
				continue
			}
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				reply, err := c.Brain.Think(ctx, ConsoleChatID, line)
				if err != nil {
					c.logger.Error("Error thinking", zap.Error(err))
					reply = fmt.Sprintf("error: %v", err)
				}
				_ = c.Send(ConsoleChatID, reply)
				c.showPrompt()
			}()
		}
	}
}

func (c *ConsoleGateway) Send(_ string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, text)
	return err
}

// Stop is a no-op; the console loop ends with its context or input.
func (c *ConsoleGateway) Stop() error {
	return nil
}

func (c *ConsoleGateway) showPrompt() {
	if !c.prompt {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, "kuruma> ")
}
