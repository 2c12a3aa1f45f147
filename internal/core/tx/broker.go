package tx

// MessageBroker accumulates user-facing messages and warnings raised during
// a unit of work. One broker per transaction; a viewer drains it after the
// transaction completes.
type MessageBroker struct {
	messages []string
	warnings []string
}

// NewMessageBroker returns an empty broker.
func NewMessageBroker() *MessageBroker {
	return &MessageBroker{}
}

// AddMessage appends an informational message.
func (b *MessageBroker) AddMessage(msg string) {
	b.messages = append(b.messages, msg)
}

// AddWarning appends a warning.
func (b *MessageBroker) AddWarning(msg string) {
	b.warnings = append(b.warnings, msg)
}

// Messages drains and returns accumulated messages.
func (b *MessageBroker) Messages() []string {
	out := b.messages
	b.messages = nil
	return out
}

// Warnings drains and returns accumulated warnings.
func (b *MessageBroker) Warnings() []string {
	out := b.warnings
	b.warnings = nil
	return out
}
