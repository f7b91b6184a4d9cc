// Package telegramtest provides in-memory fakes of the telegram adapter for tests.
package telegramtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edgard/botfleet/internal/telegram"
)

// ErrRejected is returned by Launch for tokens listed in FailTokens.
var ErrRejected = errors.New("telegram: Unauthorized")

// Sent records one outgoing message.
type Sent struct {
	ChatID  int64
	ReplyTo int
	Text    string
}

// Launcher is a fake telegram.Launcher.
type Launcher struct {
	// LaunchDelay widens the launch window so concurrent starts overlap.
	LaunchDelay time.Duration
	// FailTokens makes Launch fail for these tokens.
	FailTokens map[string]bool
	// Stubborn makes launched clients ignore cancellation until Release is called.
	Stubborn bool

	mu       sync.Mutex
	launches int
	clients  map[string][]*Client
}

// NewLauncher returns an empty fake launcher.
func NewLauncher() *Launcher {
	return &Launcher{FailTokens: map[string]bool{}, clients: map[string][]*Client{}}
}

// Launch implements telegram.Launcher.
func (l *Launcher) Launch(ctx context.Context, botID, token string, h telegram.Handlers) (telegram.Client, error) {
	if l.LaunchDelay > 0 {
		select {
		case <-time.After(l.LaunchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	if l.FailTokens[token] {
		return nil, fmt.Errorf("launch %s: %w", botID, ErrRejected)
	}
	c := newClient(botID, h, l.Stubborn)
	if l.clients == nil {
		l.clients = map[string][]*Client{}
	}
	l.clients[botID] = append(l.clients[botID], c)
	return c, nil
}

// Launches returns how many times Launch was called.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Clients returns every client launched for botID, oldest first.
func (l *Launcher) Clients(botID string) []*Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Client(nil), l.clients[botID]...)
}

// Last returns the newest client for botID, or nil.
func (l *Launcher) Last(botID string) *Client {
	cs := l.Clients(botID)
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

// Client is a fake telegram.Client.
type Client struct {
	BotID    string
	Handlers telegram.Handlers

	stubborn bool
	release  chan struct{}
	running  chan struct{}
	stopped  chan struct{}
	once     sync.Once

	mu        sync.Mutex
	sent      []Sent
	failChats map[int64]bool
}

func newClient(botID string, h telegram.Handlers, stubborn bool) *Client {
	return &Client{
		BotID:     botID,
		Handlers:  h,
		stubborn:  stubborn,
		release:   make(chan struct{}),
		running:   make(chan struct{}),
		stopped:   make(chan struct{}),
		failChats: map[int64]bool{},
	}
}

// Run implements telegram.Client. It blocks until ctx is done, or until Release for stubborn clients.
func (c *Client) Run(ctx context.Context) {
	close(c.running)
	defer close(c.stopped)
	if c.stubborn {
		<-c.release
		return
	}
	select {
	case <-ctx.Done():
	case <-c.release:
	}
}

// Release unblocks Run. For non-stubborn clients it simulates the poll loop dying on its own.
func (c *Client) Release() {
	c.once.Do(func() { close(c.release) })
}

// Stopped is closed once Run has returned.
func (c *Client) Stopped() <-chan struct{} {
	return c.stopped
}

// Running is closed once Run has been entered.
func (c *Client) Running() <-chan struct{} {
	return c.running
}

// FailChat makes sends to chatID fail.
func (c *Client) FailChat(chatID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failChats[chatID] = true
}

// SendText implements telegram.Sender.
func (c *Client) SendText(_ context.Context, chatID int64, text string) error {
	return c.record(Sent{ChatID: chatID, Text: text})
}

// Reply implements telegram.Sender.
func (c *Client) Reply(_ context.Context, chatID int64, messageID int, text string) error {
	return c.record(Sent{ChatID: chatID, ReplyTo: messageID, Text: text})
}

func (c *Client) record(s Sent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failChats[s.ChatID] {
		return fmt.Errorf("send to %d: Forbidden: bot was blocked by the user", s.ChatID)
	}
	c.sent = append(c.sent, s)
	return nil
}

// Sent returns every successfully sent message.
func (c *Client) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Subscribe delivers a /start event to the attached handler.
func (c *Client) Subscribe(ctx context.Context, ev telegram.SubscribeEvent) {
	if c.Handlers.OnSubscribe != nil {
		c.Handlers.OnSubscribe(ctx, c, ev)
	}
}

// Message delivers a message event to the attached handler, if any.
func (c *Client) Message(ctx context.Context, ev telegram.MessageEvent) bool {
	if c.Handlers.OnMessage == nil {
		return false
	}
	c.Handlers.OnMessage(ctx, c, ev)
	return true
}
