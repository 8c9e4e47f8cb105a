package domain

import "time"

// SenderKind identifies who authored a message.
type SenderKind string

const (
	SenderLead  SenderKind = "lead"
	SenderAgent SenderKind = "agente"
	SenderBot   SenderKind = "chatbot"
)

// ConversationStatus controls whether the chatbot or a human agent owns
// the conversation.
type ConversationStatus string

const (
	StatusBotActive   ConversationStatus = "chatbot_activo"
	StatusAgentActive ConversationStatus = "agente_activo"
)

// Message is a single persisted conversation turn. Messages are immutable
// once written and ordered by timestamp within a conversation.
type Message struct {
	ConversationID string
	Sender         SenderKind
	SenderID       string
	Content        string
	Timestamp      time.Time
}

// ChatbotConfig associates an assistant persona and instructions with a
// chatbot identifier. Read-only to this service.
type ChatbotConfig struct {
	ID      string
	Context string
}
