package study

import (
	"fmt"
	"strings"

	"readify/common"
)

// ChatErrorReply replaces a partial answer when streaming fails.
const ChatErrorReply = "Sorry, I encountered an error. Please try again."

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Chat is a conversation about one document. It holds state only; the model
// call happens between Begin and Finish so the caller can release its lock
// while the answer streams.
type Chat struct {
	context string
	history []common.ChatTurn
}

// Start resets the conversation around a new document text.
func (c *Chat) Start(documentText string) {
	c.context = documentText
	c.history = nil
}

// History returns a copy of the conversation.
func (c *Chat) History() []common.ChatTurn {
	return append([]common.ChatTurn(nil), c.history...)
}

// Begin appends the user message and an empty model reply. It returns the
// history to send with this exchange and the prompt. Exchanges whose reply
// came back empty are left out of that history. ok is false for a blank
// message.
func (c *Chat) Begin(message string) (prior []common.ChatTurn, prompt string, ok bool) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, "", false
	}
	prior = sendableHistory(c.history)
	c.history = append(c.history,
		common.ChatTurn{Role: RoleUser, Text: message},
		common.ChatTurn{Role: RoleModel},
	)
	prompt = fmt.Sprintf(`You are a helpful assistant. Use the following document context to answer the user's question.
If the answer isn't in the document, use your general knowledge but mention you are doing so.

DOCUMENT CONTEXT:
---
%s
---
USER QUESTION: %s`, common.TruncateRunes(c.context, common.ChatContextLimit), message)
	return prior, prompt, true
}

// Append adds a streamed chunk to the pending model reply.
func (c *Chat) Append(chunk string) {
	if last := c.last(); last != nil {
		last.Text += chunk
	}
}

// Fail replaces the pending model reply with ChatErrorReply.
func (c *Chat) Fail() {
	if last := c.last(); last != nil {
		last.Text = ChatErrorReply
	}
}

// sendableHistory drops blank turns. A user turn answered by a blank model
// turn is dropped with it so roles keep alternating.
func sendableHistory(turns []common.ChatTurn) []common.ChatTurn {
	var out []common.ChatTurn
	for _, turn := range turns {
		if strings.TrimSpace(turn.Text) != "" {
			out = append(out, turn)
			continue
		}
		if turn.Role == RoleModel && len(out) > 0 && out[len(out)-1].Role == RoleUser {
			out = out[:len(out)-1]
		}
	}
	return out
}

func (c *Chat) last() *common.ChatTurn {
	if len(c.history) == 0 || c.history[len(c.history)-1].Role != RoleModel {
		return nil
	}
	return &c.history[len(c.history)-1]
}
