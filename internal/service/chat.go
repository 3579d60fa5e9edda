package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/teamdesk/internal/domain"
	"github.com/xiaot623/teamdesk/internal/logging"
	"github.com/xiaot623/teamdesk/internal/protocol"
)

// Message window defaults for GetMessages.
const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 200
)

// ChatService creates chats, persists messages and delivers them to the
// rooms of the connected participants.
type ChatService struct {
	Deps
	chatLocks   *keyLock
	createLocks *keyLock
	now         func() time.Time
}

// NewChatService creates a ChatService.
func NewChatService(deps Deps) *ChatService {
	if deps.Directory == nil {
		deps.Directory = NewUserDirectory(deps.Store, 0)
	}
	return &ChatService{
		Deps:        deps,
		chatLocks:   newKeyLock(),
		createLocks: newKeyLock(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateChat opens the conversation between actorID and participantIDs, or
// returns the existing one with the same participant set. created reports
// whether a new chat was persisted.
func (s *ChatService) CreateChat(ctx context.Context, actorID string, participantIDs []string) (*domain.ChatView, bool, error) {
	if len(participantIDs) == 0 {
		return nil, false, domain.NewValidationError(protocol.ErrInvalidParticipants)
	}
	for _, id := range participantIDs {
		if strings.TrimSpace(id) == "" {
			return nil, false, domain.NewValidationError(protocol.ErrInvalidParticipants).Field("participantIds", "blank id")
		}
	}
	ids := domain.NormalizeParticipants(actorID, participantIDs)
	key := domain.ParticipantKey(ids)

	unlock := s.createLocks.Lock(key)
	defer unlock()

	existing, err := s.Store.FindChatByParticipantKey(ctx, key)
	if err == nil {
		return s.reopen(ctx, actorID, existing)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("find chat: %w", err)
	}

	_, missing, err := s.Directory.Resolve(ctx, ids)
	if err != nil {
		return nil, false, fmt.Errorf("resolve participants: %w", err)
	}
	if len(missing) > 0 {
		return nil, false, &domain.ValidationError{Message: protocol.ErrParticipantsNotFound, MissingIDs: missing}
	}

	now := s.now()
	chat := &domain.Chat{
		ID:             uuid.New().String(),
		Participants:   ids,
		ParticipantKey: key,
		Messages:       []domain.Message{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Store.CreateChat(ctx, chat); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Another process created the same conversation first.
			winner, ferr := s.Store.FindChatByParticipantKey(ctx, key)
			if ferr != nil {
				return nil, false, fmt.Errorf("find chat after conflict: %w", ferr)
			}
			return s.reopen(ctx, actorID, winner)
		}
		return nil, false, fmt.Errorf("create chat: %w", err)
	}
	s.Metrics.ChatCreated()

	view, err := s.view(ctx, chat)
	if err != nil {
		return nil, false, err
	}
	frame := protocol.MustEncode(protocol.EventChatCreated, protocol.ChatCreatedPayload{Chat: *view})
	for _, userID := range chat.Participants {
		s.Realtime.JoinUserToRoom(userID, chat.ID)
		s.Realtime.SendToUser(userID, frame)
	}
	s.log(ctx).Info("chat created", "chat_id", chat.ID, "participants", len(chat.Participants))
	return view, true, nil
}

// reopen joins only the actor to an existing chat and tells the actor about it.
func (s *ChatService) reopen(ctx context.Context, actorID string, chat *domain.Chat) (*domain.ChatView, bool, error) {
	view, err := s.view(ctx, chat)
	if err != nil {
		return nil, false, err
	}
	s.Realtime.JoinUserToRoom(actorID, chat.ID)
	s.Realtime.SendToUser(actorID, protocol.MustEncode(protocol.EventChatCreated, protocol.ChatCreatedPayload{Chat: *view}))
	return view, false, nil
}

// SendMessage appends content to chatID on behalf of actorID and delivers
// the stored message to every connection in the chat's room, sender included.
func (s *ChatService) SendMessage(ctx context.Context, actorID, chatID, content string) (*domain.MessageView, error) {
	chatID = strings.TrimSpace(chatID)
	content = strings.TrimSpace(content)
	if chatID == "" || content == "" {
		return nil, domain.NewValidationError(protocol.ErrInvalidMessageData)
	}

	// Persist and broadcast under one per-chat lock so every room member
	// sees messages in persistence order.
	unlock := s.chatLocks.Lock(chatID)
	defer unlock()

	chat, err := s.Store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(actorID) {
		return nil, domain.ErrForbidden
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		SenderID:  actorID,
		Content:   content,
		Timestamp: s.now(),
	}
	if err := s.Store.AppendMessage(ctx, chatID, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	s.Metrics.MessagePersisted()

	view := domain.MessageView{ID: msg.ID, Sender: domain.UserRef{ID: actorID}, Content: msg.Content, Timestamp: msg.Timestamp}
	if sender, err := s.Directory.GetUser(ctx, actorID); err == nil {
		view.Sender = sender.Ref()
	} else {
		s.log(ctx).Warn("sender lookup failed", "user_id", actorID, logging.Err(err))
	}

	n := s.Realtime.BroadcastRoom(chatID, protocol.MustEncode(protocol.EventNewMessage, protocol.NewMessagePayload{
		ChatID:  chatID,
		Message: view,
	}))
	s.log(ctx).Debug("message delivered", "chat_id", chatID, "message_id", msg.ID, "connections", n)
	return &view, nil
}

// ChatsForUser lists the chats userID participates in, newest-updated first.
func (s *ChatService) ChatsForUser(ctx context.Context, userID string) ([]domain.ChatView, error) {
	chats, err := s.Store.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	users, _, err := s.Directory.Resolve(ctx, userIDsOf(chats...))
	if err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}
	views := make([]domain.ChatView, 0, len(chats))
	for i := range chats {
		views = append(views, buildView(&chats[i], users))
	}
	return views, nil
}

// GetChat returns chatID if actorID participates in it.
func (s *ChatService) GetChat(ctx context.Context, actorID, chatID string) (*domain.ChatView, error) {
	chat, err := s.participantChat(ctx, actorID, chatID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, chat)
}

// GetMessages returns an offset window over chatID's messages in persistence
// order. limit <= 0 means DefaultMessageLimit.
func (s *ChatService) GetMessages(ctx context.Context, actorID, chatID string, limit, skip int) (*domain.MessagePage, error) {
	if _, err := s.participantChat(ctx, actorID, chatID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		limit = MaxMessageLimit
	}
	if skip < 0 {
		skip = 0
	}
	msgs, total, err := s.Store.ListMessages(ctx, chatID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	senders := make([]string, 0, len(msgs))
	for _, m := range msgs {
		senders = append(senders, m.SenderID)
	}
	users, _, err := s.Directory.Resolve(ctx, senders)
	if err != nil {
		return nil, fmt.Errorf("resolve senders: %w", err)
	}
	page := &domain.MessagePage{
		ChatID:   chatID,
		Messages: make([]domain.MessageView, 0, len(msgs)),
		Total:    total,
		HasMore:  skip+len(msgs) < total,
	}
	for _, m := range msgs {
		page.Messages = append(page.Messages, messageView(m, users))
	}
	return page, nil
}

// DirectChat finds or creates the two-person chat between actorID and targetID.
// created reports whether this call made the chat.
func (s *ChatService) DirectChat(ctx context.Context, actorID, targetID string) (*domain.ChatView, bool, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" || targetID == actorID {
		return nil, false, domain.NewValidationError(protocol.ErrInvalidParticipants)
	}
	if _, err := s.Directory.GetUser(ctx, targetID); err != nil {
		return nil, false, err
	}
	return s.CreateChat(ctx, actorID, []string{targetID})
}

// AvailableUsers lists the users actorID may start a chat with, online first
// and then by name.
func (s *ChatService) AvailableUsers(ctx context.Context, actorID string) ([]domain.AvailableUser, error) {
	actor, err := s.Directory.GetUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	users, err := s.Store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	out := make([]domain.AvailableUser, 0, len(users))
	for i := range users {
		u := &users[i]
		if u.ID == actorID {
			continue
		}
		if s.Policy != nil {
			visible, err := s.Policy.UserVisible(ctx, actor, u)
			if err != nil {
				return nil, err
			}
			if !visible {
				continue
			}
		}
		out = append(out, domain.AvailableUser{
			ID:       u.ID,
			Name:     u.Name,
			Email:    u.Email,
			Role:     u.Role,
			IsOnline: s.Realtime.IsOnline(u.ID),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsOnline != out[j].IsOnline {
			return out[i].IsOnline
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

func (s *ChatService) participantChat(ctx context.Context, actorID, chatID string) (*domain.Chat, error) {
	chat, err := s.Store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(actorID) {
		return nil, domain.ErrForbidden
	}
	return chat, nil
}

func (s *ChatService) view(ctx context.Context, chat *domain.Chat) (*domain.ChatView, error) {
	users, _, err := s.Directory.Resolve(ctx, userIDsOf(*chat))
	if err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}
	v := buildView(chat, users)
	return &v, nil
}

func userIDsOf(chats ...domain.Chat) []string {
	var ids []string
	for _, c := range chats {
		ids = append(ids, c.Participants...)
		for _, m := range c.Messages {
			ids = append(ids, m.SenderID)
		}
	}
	return ids
}

func buildView(chat *domain.Chat, users map[string]domain.User) domain.ChatView {
	v := domain.ChatView{
		ID:           chat.ID,
		Participants: make([]domain.UserRef, 0, len(chat.Participants)),
		Messages:     make([]domain.MessageView, 0, len(chat.Messages)),
		CreatedAt:    chat.CreatedAt,
		UpdatedAt:    chat.UpdatedAt,
	}
	for _, id := range chat.Participants {
		v.Participants = append(v.Participants, ref(users, id))
	}
	for _, m := range chat.Messages {
		v.Messages = append(v.Messages, messageView(m, users))
	}
	return v
}

func messageView(m domain.Message, users map[string]domain.User) domain.MessageView {
	return domain.MessageView{
		ID:        m.ID,
		Sender:    ref(users, m.SenderID),
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}
