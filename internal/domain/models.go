package domain

// Account is the persisted identity of a linked MAX account.
// OwnerID is the Telegram user that owns the account; Token is the
// long-lived login token obtained at the end of the phone+code flow.
type Account struct {
	ID              uint   `gorm:"primaryKey"`
	OwnerID         int64  `gorm:"uniqueIndex" json:"owner_id"`
	Token           string `gorm:"size:1000" json:"token"`
	ListeningChatID int64  `json:"listening_chat_id,omitempty"`
}

// Chat is a cached entry of the owner's MAX chat directory, refreshed
// on every chat sync.
type Chat struct {
	ID            uint   `gorm:"primaryKey"`
	OwnerID       int64  `gorm:"index" json:"owner_id"`
	ChatID        int64  `gorm:"uniqueIndex" json:"chat_id"`
	Title         string `gorm:"size:100" json:"title"`
	MessagesCount int64  `json:"messages_count"`
	LastMessageID string `json:"last_message_id"`
}

// GroupLink connects a Telegram group to the MAX chat it mirrors.
// ChatID is zero while the group is registered but not yet linked.
type GroupLink struct {
	ID         uint   `gorm:"primaryKey"`
	GroupID    int64  `gorm:"uniqueIndex" json:"group_id"`
	GroupTitle string `gorm:"size:100" json:"group_title"`
	OwnerID    int64  `gorm:"index" json:"owner_id"`
	ChatID     int64  `json:"chat_id,omitempty"`
}
