package models

// Player is the authenticated caller as asserted by the account service's token.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DisplayName falls back to the id when the token carried no name.
func (p Player) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}
