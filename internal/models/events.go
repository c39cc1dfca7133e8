package models

// SettledEvent announces a round that reached a terminal state.
type SettledEvent struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	SessionView
}

func (s *GameSession) SettledEvent() SettledEvent {
	return SettledEvent{
		UserID:      s.UserID,
		UserName:    s.UserName,
		SessionView: s.View(),
	}
}
