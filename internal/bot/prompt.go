package bot

import (
	"math/rand/v2"
	"regexp"
	"strings"
)

const persona = `You are SmartBot, a friendly and empathetic AI companion in the BaatKare chat app.
Chat naturally like a close friend, offer practical help when asked, and notice how the
user feels: acknowledge emotions before suggesting solutions, celebrate good news and
comfort during hard times. Keep replies warm, clear and concise. Use emojis sparingly.`

// buildPrompt assembles the persona, the recent transcript and the question.
func buildPrompt(history []string, question string) string {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Previous conversation:\n")
		b.WriteString(strings.Join(history, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString(persona)
	b.WriteString("\n\nUser message: ")
	b.WriteString(question)
	b.WriteString("\n\nRespond as SmartBot:")
	return b.String()
}

var fallbacks = []string{
	"I'm having trouble connecting right now 😔 But I'm here for you! Could you try sending that again?",
	"Oops! I'm experiencing some technical difficulties. Can you give me a moment and try again? 🔧",
	"Sorry, I'm having connection issues! Let me try to help you anyway - what would you like to talk about? 💭",
	"My AI brain seems to be taking a break! 🤖 Try sending your message again in a moment.",
	"Technical hiccup on my end! 😅 I really want to help - could you resend that?",
}

func fallback() string {
	return fallbacks[rand.IntN(len(fallbacks))]
}

// mentionPattern matches mention case-insensitively.
func mentionPattern(mention string) *regexp.Regexp {
	return regexp.MustCompile("(?i)" + regexp.QuoteMeta(mention))
}
