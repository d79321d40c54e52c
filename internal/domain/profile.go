package domain

// PlayerProfile is the combined result of the username lookup: account id,
// canonical names, avatar and profile metadata from the upstream service.
type PlayerProfile struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	CreatedAt   string `json:"created_at"` // upstream ISO timestamp, passed through
	Description string `json:"description"`
}
