package bot

import (
	"context"
	"fmt"

	"github.com/rohitpatil2845/BAATKANE/internal/apperr"
	"github.com/rohitpatil2845/BAATKANE/internal/store"
	"go.uber.org/zap"
)

func welcome(name string) string {
	return fmt.Sprintf("👋 Hello %s! I'm SmartBot, your AI companion on BaatKare.\n\n"+
		"I'm here to:\n✨ Chat with you anytime\n💡 Help solve problems\n"+
		"🎯 Provide suggestions and advice\n❤️ Understand your emotions\n\n"+
		"Just send me a message! How can I help you today?", name)
}

// EnsureBotChats makes sure the bot user exists and that every user has a
// one-to-one chat with it. It returns how many chats were created.
func (r *Responder) EnsureBotChats(ctx context.Context) (int, error) {
	if err := r.store.EnsureBotUser(ctx); err != nil {
		return 0, fmt.Errorf("ensure bot user: %w", err)
	}
	users, err := r.store.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	created := 0
	for _, u := range users {
		_, isNew, err := r.EnsureBotChat(ctx, u)
		if err != nil {
			return created, err
		}
		if isNew {
			created++
		}
	}
	if created > 0 {
		r.log.Info("created bot chats", zap.Int("count", created))
	}
	return created, nil
}

// EnsureBotChat returns u's one-to-one chat with the bot, creating it with a
// welcome message when missing. The bool reports whether it was created.
func (r *Responder) EnsureBotChat(ctx context.Context, u store.User) (*store.Chat, bool, error) {
	c, err := r.store.FindDirectChat(ctx, u.ID, store.BotUserID)
	if err == nil {
		return c, false, nil
	}
	if !apperr.Is(err, apperr.NotFound) {
		return nil, false, fmt.Errorf("find bot chat for %s: %w", u.ID, err)
	}

	c = &store.Chat{}
	if err := r.store.CreateChat(ctx, c, []string{u.ID, store.BotUserID}); err != nil {
		return nil, false, fmt.Errorf("create bot chat for %s: %w", u.ID, err)
	}
	if _, err := r.store.AppendMessage(ctx, &store.Message{
		ChatID:  c.ID,
		UserID:  store.BotUserID,
		Content: welcome(u.Name),
		Type:    "text",
	}); err != nil {
		return nil, false, fmt.Errorf("welcome %s: %w", u.ID, err)
	}
	return c, true, nil
}
