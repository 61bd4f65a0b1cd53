package orchestrator

import "time"

// MaxConversationLimit is the largest number of messages a log keeps
const MaxConversationLimit = 1000

// Message is one entry of the conversation log
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// ConversationLog keeps the most recent messages, dropping the oldest once
// the limit is reached. It carries caller context only and never affects
// patch application.
type ConversationLog struct {
	limit    int
	messages []Message
}

// NewConversationLog creates a log holding at most limit messages. A limit
// outside 1..MaxConversationLimit means MaxConversationLimit.
func NewConversationLog(limit int) *ConversationLog {
	if limit <= 0 || limit > MaxConversationLimit {
		limit = MaxConversationLimit
	}
	return &ConversationLog{limit: limit}
}

// Add appends a message, trimming the oldest entries past the limit
func (c *ConversationLog) Add(role, content string) {
	c.append(Message{Role: role, Content: content, Time: time.Now()})
}

func (c *ConversationLog) append(m Message) {
	c.messages = append(c.messages, m)
	if over := len(c.messages) - c.limit; over > 0 {
		c.messages = append([]Message(nil), c.messages[over:]...)
	}
}

// Restore replaces the log with msgs, keeping only the newest that fit
func (c *ConversationLog) Restore(msgs []Message) {
	c.messages = nil
	for _, m := range msgs {
		c.append(m)
	}
}

// Messages returns a copy of the log, oldest first
func (c *ConversationLog) Messages() []Message {
	return append([]Message(nil), c.messages...)
}

// Len returns the number of stored messages
func (c *ConversationLog) Len() int {
	return len(c.messages)
}

// Limit returns the maximum number of stored messages
func (c *ConversationLog) Limit() int {
	return c.limit
}
