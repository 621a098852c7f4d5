// Package memory holds an in-memory Store used when no database is
// configured and by tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/kosvc/max-bridge/internal/domain"
)

// Store implements domain.Store on plain maps
type Store struct {
	mu       sync.RWMutex
	accounts map[int64]domain.Account
	chats    map[int64]domain.Chat      // keyed by chat id
	groups   map[int64]domain.GroupLink // keyed by group id
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		accounts: make(map[int64]domain.Account),
		chats:    make(map[int64]domain.Chat),
		groups:   make(map[int64]domain.GroupLink),
	}
}

// Ping always succeeds, the store lives in process memory
func (s *Store) Ping(_ context.Context) error {
	return nil
}

func (s *Store) SaveAccount(_ context.Context, account domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.accounts[account.OwnerID]; ok {
		account.ID = existing.ID
	}
	s.accounts[account.OwnerID] = account
	return nil
}

func (s *Store) GetAccount(_ context.Context, ownerID int64) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[ownerID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &account, nil
}

func (s *Store) GetAllAccounts(_ context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := make([]domain.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].OwnerID < accounts[j].OwnerID })
	return accounts, nil
}

func (s *Store) UpdateToken(_ context.Context, ownerID int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[ownerID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	account.Token = token
	s.accounts[ownerID] = account
	return nil
}

func (s *Store) DeleteAccount(_ context.Context, ownerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[ownerID]; !ok {
		return domain.ErrAccountNotFound
	}
	delete(s.accounts, ownerID)
	return nil
}

func (s *Store) UpsertChat(_ context.Context, chat domain.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chat.ChatID] = chat
	return nil
}

func (s *Store) ChatsByOwner(_ context.Context, ownerID int64) ([]domain.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var chats []domain.Chat
	for _, chat := range s.chats {
		if chat.OwnerID == ownerID {
			chats = append(chats, chat)
		}
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].Title < chats[j].Title })
	return chats, nil
}

func (s *Store) SaveGroup(_ context.Context, group domain.GroupLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.groups[group.GroupID]; ok && group.ChatID == 0 {
		group.ChatID = existing.ChatID
	}
	s.groups[group.GroupID] = group
	return nil
}

func (s *Store) RemoveGroup(_ context.Context, groupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return domain.ErrGroupNotFound
	}
	delete(s.groups, groupID)
	return nil
}

func (s *Store) LinkGroupChat(_ context.Context, groupID, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[groupID]
	if !ok {
		return domain.ErrGroupNotFound
	}
	group.ChatID = chatID
	s.groups[groupID] = group
	return nil
}

func (s *Store) GroupsByChat(_ context.Context, chatID int64) ([]domain.GroupLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var groups []domain.GroupLink
	for _, group := range s.groups {
		if group.ChatID == chatID {
			groups = append(groups, group)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].GroupID < groups[j].GroupID })
	return groups, nil
}
