package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kosvc/max-bridge/internal/domain"
)

// store implements domain.Store on PostgreSQL
type store struct {
	db *gorm.DB
}

// NewStore creates a new PostgreSQL-backed store
func NewStore(db *gorm.DB) domain.Store {
	return &store{
		db: db,
	}
}

// Ping checks database connectivity for health reporting
func (s *store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// SaveAccount inserts the account or refreshes its token and chat fields
func (s *store) SaveAccount(ctx context.Context, account domain.Account) error {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"token", "listening_chat_id"}),
		}).
		Create(&account)

	if result.Error != nil {
		return domain.ErrDatabaseOperation
	}
	return nil
}

// GetAccount retrieves the account of one owner
func (s *store) GetAccount(ctx context.Context, ownerID int64) (*domain.Account, error) {
	var account domain.Account
	result := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		First(&account)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, domain.ErrDatabaseOperation
	}

	return &account, nil
}

// GetAllAccounts retrieves every linked account
func (s *store) GetAllAccounts(ctx context.Context) ([]domain.Account, error) {
	var accounts []domain.Account
	result := s.db.WithContext(ctx).Find(&accounts)
	if result.Error != nil {
		return nil, domain.ErrDatabaseOperation
	}
	return accounts, nil
}

// UpdateToken replaces the stored login token of one owner
func (s *store) UpdateToken(ctx context.Context, ownerID int64, token string) error {
	result := s.db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("owner_id = ?", ownerID).
		Update("token", token)

	if result.Error != nil {
		return domain.ErrDatabaseOperation
	}
	if result.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// DeleteAccount removes the account of one owner
func (s *store) DeleteAccount(ctx context.Context, ownerID int64) error {
	result := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Delete(&domain.Account{})

	if result.Error != nil {
		return domain.ErrDatabaseOperation
	}
	if result.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// UpsertChat inserts a synced chat or refreshes its title and counters
func (s *store) UpsertChat(ctx context.Context, chat domain.Chat) error {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "messages_count", "last_message_id"}),
		}).
		Create(&chat)

	if result.Error != nil {
		return domain.ErrDatabaseOperation
	}
	return nil
}

// ChatsByOwner retrieves the cached chat list of one owner
func (s *store) ChatsByOwner(ctx context.Context, ownerID int64) ([]domain.Chat, error) {
	var chats []domain.Chat
	result := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("title ASC").
		Find(&chats)

	if result.Error != nil {
		return nil, domain.ErrDatabaseOperation
	}
	return chats, nil
}

// SaveGroup registers a Telegram group, keeping the existing chat link
func (s *store) SaveGroup(ctx context.Context, group domain.GroupLink) error {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "group_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"group_title", "owner_id"}),
		}).
		Create(&group)

	if result.Error != nil {
		return domain.ErrDatabaseOperation
	}
	return nil
}

// RemoveGroup unregisters a Telegram group
func (s *store) RemoveGroup(ctx context.Context, groupID int64) error {
	result := s.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Delete(&domain.GroupLink{})

	if result.Error != nil {
		return domain.ErrDatabaseOperation
	}
	if result.RowsAffected == 0 {
		return domain.ErrGroupNotFound
	}
	return nil
}

// LinkGroupChat points a registered group at a MAX chat
func (s *store) LinkGroupChat(ctx context.Context, groupID, chatID int64) error {
	result := s.db.WithContext(ctx).
		Model(&domain.GroupLink{}).
		Where("group_id = ?", groupID).
		Update("chat_id", chatID)

	if result.Error != nil {
		return domain.ErrDatabaseOperation
	}
	if result.RowsAffected == 0 {
		return domain.ErrGroupNotFound
	}
	return nil
}

// GroupsByChat retrieves every group mirroring a MAX chat
func (s *store) GroupsByChat(ctx context.Context, chatID int64) ([]domain.GroupLink, error) {
	var groups []domain.GroupLink
	result := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Find(&groups)

	if result.Error != nil {
		return nil, domain.ErrDatabaseOperation
	}
	return groups, nil
}
