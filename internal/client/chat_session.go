package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rolechat/internal/core/domain"
	"rolechat/internal/timeline"

	"go.uber.org/zap"
)

const (
	DefaultHistoryLimit = 100
	avatarBaseURL       = "https://www.tapback.co/api/avatar/"
	detachTimeout       = 2 * time.Second
)

// AvatarURL is the generated avatar shown for a user in role-change notices.
func AvatarURL(userKey string) string {
	return avatarBaseURL + userKey
}

type SessionConfig struct {
	API          *APIClient
	RealtimeURL  string
	Channel      string // full channel name, "chat:<key>"
	HistoryLimit int
	Logger       *zap.SugaredLogger
}

// ChatSession hosts the timeline of one channel. A single loop goroutine
// applies every event and I/O completion in order; results that arrive after
// Close are dropped.
type ChatSession struct {
	api     *APIClient
	conn    *RealtimeConn
	channel string
	limit   int
	logger  *zap.SugaredLogger

	reconciler *timeline.Reconciler
	dispatcher *timeline.Dispatcher
	members    *timeline.MembershipUpdater
	self       *timeline.SelfPermissionUpdater

	events  chan func()
	updates chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.RWMutex
	me       *domain.User
	users    []*domain.User
	loopErr  error
	realtime string
}

func NewChatSession(cfg SessionConfig) *ChatSession {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Channel == "" {
		cfg.Channel = domain.ChatChannel(domain.DefaultChannelKey)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	return &ChatSession{
		api:        cfg.API,
		channel:    cfg.Channel,
		limit:      cfg.HistoryLimit,
		logger:     cfg.Logger.With("channel", cfg.Channel),
		realtime:   cfg.RealtimeURL,
		reconciler: timeline.NewReconciler(),
		events:     make(chan func(), 64),
		updates:    make(chan struct{}, 1),
	}
}

// Start fetches a credential, attaches to the channel and begins the history
// backfill. A session without a credential fails with ErrNoCredential and
// opens no connection.
func (s *ChatSession) Start(ctx context.Context) error {
	token, err := s.api.RealtimeToken(ctx)
	if err != nil {
		return fmt.Errorf("fetch realtime token: %w", err)
	}
	if token == "" {
		return domain.ErrNoCredential
	}

	conn, err := DialRealtime(ctx, s.realtime, token)
	if err != nil {
		return err
	}
	if err := conn.Attach(ctx, s.channel); err != nil {
		conn.Close()
		return err
	}
	s.conn = conn

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.members = timeline.NewMembershipUpdater(s.ctx, s.refreshUsers, s.logger)
	s.self = timeline.NewSelfPermissionUpdater(s.ctx, s.refreshSelf, s.logger)
	s.dispatcher = timeline.NewDispatcher(s.logger, s.reconciler, s.members, s.self)

	s.wg.Add(1)
	go s.loop()

	_ = s.refreshSelf(s.ctx)
	_ = s.refreshUsers(s.ctx)
	s.backfill()
	return nil
}

func (s *ChatSession) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case fn := <-s.events:
			fn()
		case msg, ok := <-s.conn.Messages():
			if !ok {
				s.mu.Lock()
				s.loopErr = s.conn.Err()
				s.mu.Unlock()
				s.notify()
				return
			}
			if msg.Channel != "" && msg.Channel != s.channel {
				continue
			}
			s.dispatcher.DispatchMessages(timeline.Live, []*domain.Message{msg})
			s.notify()
		}
	}
}

// post runs fn on the loop unless the session has ended.
func (s *ChatSession) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.ctx.Done():
	}
}

func (s *ChatSession) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *ChatSession) backfill() {
	if !s.reconciler.BeginBackfill() {
		return
	}
	go func() {
		msgs, err := s.conn.History(s.ctx, s.channel, s.limit, domain.HistoryForwards)
		s.post(func() {
			if s.reconciler.Closed() {
				return
			}
			if err != nil {
				s.logger.Warnw("History fetch failed", "error", err)
			} else {
				s.dispatcher.DispatchMessages(timeline.History, msgs)
			}
			s.reconciler.CompleteBackfill()
			s.notify()
		})
	}()
}

// refreshUsers reloads the membership list off the loop. It is used from
// event handlers and must not block.
func (s *ChatSession) refreshUsers(ctx context.Context) error {
	go func() {
		users, err := s.api.Users(ctx)
		s.post(func() {
			if s.reconciler.Closed() {
				return
			}
			if err != nil {
				s.logger.Warnw("User list refresh failed", "error", err)
				return
			}
			s.mu.Lock()
			s.users = users
			s.mu.Unlock()
			s.notify()
		})
	}()
	return nil
}

func (s *ChatSession) refreshSelf(ctx context.Context) error {
	go func() {
		me, err := s.api.Me(ctx)
		s.post(func() {
			if s.reconciler.Closed() {
				return
			}
			if err != nil {
				s.logger.Warnw("Current user refresh failed", "error", err)
				return
			}
			s.mu.Lock()
			s.me = me
			s.mu.Unlock()
			s.notify()
		})
	}()
	return nil
}

// Updates signals, coalesced, that the visible state changed.
func (s *ChatSession) Updates() <-chan struct{} {
	return s.updates
}

func (s *ChatSession) Channel() string {
	return s.channel
}

func (s *ChatSession) Timeline() []*domain.Message {
	return s.reconciler.Timeline()
}

// Users lists the channel's other members; the current user is left out.
func (s *ChatSession) Users() []*domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.User, 0, len(s.users))
	for _, u := range s.users {
		if s.me != nil && sameUser(u, s.me) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func sameUser(a, b *domain.User) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	return a.Key == b.Key
}

func (s *ChatSession) Self() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.me
}

// CanPromote is true when the current user moderates any channel.
func (s *ChatSession) CanPromote() bool {
	return timeline.CanPromote(s.Self())
}

// Err reports why the loop stopped, if it stopped on its own.
func (s *ChatSession) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loopErr
}

func (s *ChatSession) avatar() string {
	if me := s.Self(); me != nil {
		return me.AvatarURL
	}
	return ""
}

// Send publishes a chat message.
func (s *ChatSession) Send(ctx context.Context, text string) (*domain.Message, error) {
	return s.conn.Publish(ctx, s.channel, &domain.Message{
		Name: domain.MessageAdd,
		Data: &domain.MessageData{Text: text, AvatarURL: s.avatar()},
	})
}

// Delete publishes a tombstone for one of the caller's own messages.
func (s *ChatSession) Delete(ctx context.Context, messageID string) (*domain.Message, error) {
	return s.conn.Publish(ctx, s.channel, &domain.Message{
		Name:   domain.MessageDelete,
		Extras: &domain.MessageExtras{Ref: &domain.MessageRef{ID: messageID}},
	})
}

// PromoteUser promotes userKey on this channel and announces it.
func (s *ChatSession) PromoteUser(ctx context.Context, userKey string) (*TransitionResponse, error) {
	resp, err := s.api.Promote(ctx, userKey, s.channel)
	if err != nil {
		return nil, err
	}
	_, err = s.conn.Publish(ctx, s.channel, &domain.Message{
		Name: domain.MessagePromote,
		Data: &domain.MessageData{
			ID:        userKey,
			Text:      fmt.Sprintf("User %s has been promoted to moderator", userKey),
			AvatarURL: AvatarURL(userKey),
			Role:      domain.RoleModerator,
		},
	})
	return resp, err
}

func (s *ChatSession) DemoteUser(ctx context.Context, userKey string) (*TransitionResponse, error) {
	resp, err := s.api.Demote(ctx, userKey, s.channel)
	if err != nil {
		return nil, err
	}
	_, err = s.conn.Publish(ctx, s.channel, &domain.Message{
		Name: domain.MessageDemote,
		Data: &domain.MessageData{
			ID:        userKey,
			Text:      fmt.Sprintf("User %s has been demoted from moderator", userKey),
			AvatarURL: AvatarURL(userKey),
			Role:      domain.RoleParticipant,
		},
	})
	return resp, err
}

// Close tears the session down. Pending fetches resolve into a closed
// reconciler and change nothing. The channel is detached while the loop
// still drains pushed messages.
func (s *ChatSession) Close() error {
	s.reconciler.Close()
	if s.conn != nil && s.conn.Err() == nil {
		ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
		if err := s.conn.Detach(ctx, s.channel); err != nil {
			s.logger.Debugw("Detach on close failed", "error", err)
		}
		cancel()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
