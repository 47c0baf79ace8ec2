package state

// AddMessage appends msg to the shared log unless its id is already
// present (idempotent upsert keyed by id), evicting the oldest entry
// past a cap of 200, then broadcasts new_message.
func (m *Manager) AddMessage(msg *Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.messages {
		if existing.ID == msg.ID {
			return
		}
	}

	m.messages = append(m.messages, msg)
	if len(m.messages) > messageCap {
		m.messages = m.messages[len(m.messages)-messageCap:]
	}
	m.broadcast(Event{Kind: EventNewMessage, Data: msg})
}
