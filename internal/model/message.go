package model

type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleHuman || r == RoleAssistant
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ConversationMessage struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Ctime     int64  `json:"ctime"`
}

func (m ConversationMessage) Message() Message {
	return Message{Role: m.Role, Content: m.Content}
}
