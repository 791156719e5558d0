// Package bot implements SmartBot, the AI participant that answers messages
// mentioning it and every message in chats it is a member of.
package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rohitpatil2845/BAATKANE/internal/bus"
	"github.com/rohitpatil2845/BAATKANE/internal/logging"
	"github.com/rohitpatil2845/BAATKANE/internal/realtime"
	"github.com/rohitpatil2845/BAATKANE/internal/store"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// Store is what the responder needs from the durable store.
type Store interface {
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
	RecentMessages(ctx context.Context, chatID string, n int) ([]store.MessageView, error)
	AppendMessage(ctx context.Context, m *store.Message) (*store.MessageView, error)
	EnsureBotUser(ctx context.Context) error
	ListUsers(ctx context.Context) ([]store.User, error)
	FindDirectChat(ctx context.Context, a, b string) (*store.Chat, error)
	CreateChat(ctx context.Context, c *store.Chat, memberIDs []string) error
}

// Options tunes a Responder.
type Options struct {
	Mention       string
	HistorySize   int
	Timeout       time.Duration
	MinDelay      time.Duration
	MaxDelay      time.Duration
	PerChar       time.Duration
	RatePerSecond int
}

// Reply is the bus payload published for every bot message.
type Reply struct {
	ChatID    string
	MessageID string
	TriggerID string
	Fallback  bool
	Delay     time.Duration
}

// Responder reacts to posted messages. It implements realtime.MessageHook.
type Responder struct {
	store   Store
	hub     *realtime.Hub
	out     *realtime.Broadcaster
	gen     Generator
	bus     *bus.Bus
	log     *zap.Logger
	opts    Options
	mention *regexp.Regexp
	limiter ratelimit.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a responder. b may be nil.
func New(st Store, hub *realtime.Hub, out *realtime.Broadcaster, gen Generator, b *bus.Bus, log *zap.Logger, opts Options) *Responder {
	if opts.HistorySize <= 0 {
		opts.HistorySize = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	r := &Responder{
		store:   st,
		hub:     hub,
		out:     out,
		gen:     gen,
		bus:     b,
		log:     logging.OrNop(log).Named("bot"),
		opts:    opts,
		limiter: ratelimit.NewUnlimited(),
	}
	if opts.Mention != "" {
		r.mention = mentionPattern(opts.Mention)
	}
	if opts.RatePerSecond > 0 {
		r.limiter = ratelimit.New(opts.RatePerSecond)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Triggered reports whether a message from senderID should get a bot reply:
// either the content mentions the bot or the chat has the bot as a member.
// The bot never answers itself.
func (r *Responder) Triggered(content string, chatHasBot bool, senderID string) bool {
	if senderID == store.BotUserID {
		return false
	}
	if chatHasBot {
		return true
	}
	return r.mention != nil && r.mention.MatchString(content)
}

// MessagePosted starts a reply in the background and returns immediately.
func (r *Responder) MessagePosted(msg store.MessageView) {
	if msg.UserID == store.BotUserID || r.ctx.Err() != nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.Respond(r.ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Warn("bot reply failed",
				zap.String("chat_id", msg.ChatID),
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
	}()
}

// Respond answers msg if it is bot-directed. It persists the reply and
// schedules its broadcast after a typing delay; the returned view is nil
// when msg did not trigger the bot. Generation failures never surface as
// errors; store failures and a ctx that ends while waiting for the rate
// limiter do, and in the latter case nothing is persisted.
func (r *Responder) Respond(ctx context.Context, msg store.MessageView) (*store.MessageView, error) {
	hasBot, err := r.store.IsMember(ctx, msg.ChatID, store.BotUserID)
	if err != nil {
		return nil, fmt.Errorf("check bot membership: %w", err)
	}
	if !r.Triggered(msg.Content, hasBot, msg.UserID) {
		return nil, nil
	}

	r.out.ToChat(msg.ChatID, realtime.Outbound{
		Name: realtime.EvtBotTyping,
		Data: map[string]string{"chatId": msg.ChatID},
	}, "")

	text, fellBack, err := r.generate(ctx, msg)
	if err != nil {
		return nil, err
	}

	var view *store.MessageView
	r.hub.WithChat(msg.ChatID, func() {
		view, err = r.store.AppendMessage(ctx, &store.Message{
			ChatID:  msg.ChatID,
			UserID:  store.BotUserID,
			Content: text,
			Type:    "text",
		})
	})
	if err != nil {
		return nil, fmt.Errorf("persist bot reply: %w", err)
	}

	delay := r.typingDelay(text)
	reply := *view
	r.wg.Add(1)
	time.AfterFunc(delay, func() {
		defer r.wg.Done()
		r.out.ToChat(reply.ChatID, realtime.NewMessage(reply), "")
	})

	r.log.Info("bot replied",
		zap.String("chat_id", msg.ChatID),
		zap.String("message_id", view.ID),
		zap.Bool("fallback", fellBack),
		zap.Duration("delay", delay))
	r.bus.Emit(bus.KindBotReplied, Reply{
		ChatID:    msg.ChatID,
		MessageID: view.ID,
		TriggerID: msg.ID,
		Fallback:  fellBack,
		Delay:     delay,
	})
	return view, nil
}

// generate returns the model's answer, or a fallback and true. It fails only
// when ctx ends before a generation slot frees up.
func (r *Responder) generate(ctx context.Context, msg store.MessageView) (string, bool, error) {
	question := strings.TrimSpace(msg.Content)
	if r.mention != nil {
		question = strings.TrimSpace(r.mention.ReplaceAllString(msg.Content, ""))
	}

	recent, err := r.store.RecentMessages(ctx, msg.ChatID, r.opts.HistorySize)
	if err != nil {
		r.log.Warn("load bot context", zap.String("chat_id", msg.ChatID), zap.Error(err))
	}
	history := make([]string, 0, len(recent))
	for _, m := range recent {
		history = append(history, m.Author.Name+": "+m.Content)
	}

	if err := r.waitSlot(ctx); err != nil {
		return "", false, fmt.Errorf("wait for generation slot: %w", err)
	}
	gctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	text, err := r.gen.Generate(gctx, buildPrompt(history, question))
	if err != nil || strings.TrimSpace(text) == "" {
		r.log.Warn("generate bot reply", zap.String("chat_id", msg.ChatID), zap.Error(err))
		return fallback(), true, nil
	}
	return text, false, nil
}

// waitSlot blocks until the limiter admits a call or ctx ends. Take cannot be
// interrupted, so an abandoned wait still consumes its slot in the background.
func (r *Responder) waitSlot(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ready := make(chan struct{})
	go func() {
		r.limiter.Take()
		close(ready)
	}()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// typingDelay is PerChar per rune of text, clamped to [MinDelay, MaxDelay].
func (r *Responder) typingDelay(text string) time.Duration {
	d := time.Duration(utf8.RuneCountInString(text)) * r.opts.PerChar
	return min(max(d, r.opts.MinDelay), r.opts.MaxDelay)
}

// Stop abandons in-flight generations and waits for pending broadcasts.
func (r *Responder) Stop() {
	r.cancel()
	r.wg.Wait()
}
