package recommender

import (
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/marquee/internal/conversation"
	"github.com/MikeSquared-Agency/marquee/internal/openai"
)

// The numbered-list format below is the structural contract the extractor
// inverts. Changing it requires changing internal/extractor in lockstep.
const systemPrompt = `You are 'What to Watch', a specialized movie and TV show recommendation assistant.

Conversation flow:
1. If you don't yet know the viewer's streaming platforms, ask for them first.
2. Then learn their preferences: favorite genres, favorite movies or shows, preferred actors or directors, current mood, themes they're interested in.
3. Once you have enough to go on, recommend 2-3 titles that match.

Formatting rules (follow these EXACTLY):
- Present final recommendations as a numbered list, one title per line:
  1. "Title" (Year) — two to three sentence summary without spoilers.
- Use a numbered list ONLY for final recommendations. When asking about platforms or preferences, use plain prose or bullet points, never numbers.
- Focus on hidden gems and underrated titles.
- Keep a friendly, conversational tone and respect content sensitivity.
- End by asking if the viewer would like more recommendations.`

const openingMessage = "Hello! I'm your movie recommendation assistant. How can I help you find something great to watch today?"

// Prompt windowing: only the most recent turns are sent upstream so long
// sessions don't blow the model's context.
const maxPromptTurns = 24

// buildPrompt renders the session into the system instruction plus ordered
// chat messages. Stated preferences are appended to the system prompt with
// keys sorted, so the rendering is deterministic for a given session state.
func buildPrompt(turns []conversation.Turn, prefs conversation.Preferences) (string, []openai.Message) {
	system := systemPrompt
	if len(prefs) > 0 {
		keys := make([]string, 0, len(prefs))
		for k := range prefs {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		b.WriteString(system)
		b.WriteString("\n\nKnown viewer preferences:")
		for _, k := range keys {
			b.WriteString("\n- ")
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(strings.Join(prefs[k], ", "))
		}
		system = b.String()
	}

	if len(turns) > maxPromptTurns {
		turns = turns[len(turns)-maxPromptTurns:]
	}

	messages := make([]openai.Message, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, openai.Message{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	return system, messages
}
