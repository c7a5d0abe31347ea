package domain

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Category drives how a message is displayed.
type Category string

const (
	CategoryUser      Category = "user"
	CategoryAssistant Category = "assistant"
	CategoryThinking  Category = "assistant-thinking"
	CategorySystem    Category = "system"
	CategoryError     Category = "error"
)

// Message is a single immutable chat entry.
type Message struct {
	Sender Role     `json:"sender"`
	Type   Category `json:"type"`
	Text   string   `json:"text"`
}

// NewMessage builds a message whose category matches its role.
func NewMessage(role Role, text string) Message {
	return Message{Sender: role, Type: Category(role), Text: text}
}

// ErrorMessage builds an error-category message attributed to the system.
func ErrorMessage(text string) Message {
	return Message{Sender: RoleSystem, Type: CategoryError, Text: text}
}

// IsLiteral reports whether the message is shown as literal text rather than
// rendered markup.
func (m Message) IsLiteral() bool {
	return m.Type != CategoryAssistant
}
