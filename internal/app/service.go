package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"callscript/internal/auth"
	"callscript/internal/commands"
	"callscript/internal/config"
	"callscript/internal/export"
	"callscript/internal/history"
	"callscript/internal/moderation"
	"callscript/internal/observability"
	"callscript/internal/ratelimit"
	"callscript/internal/rbac"
	"callscript/internal/render"
	"callscript/internal/search"
	"callscript/internal/selection"
	"callscript/internal/store"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	ExpiresAt time.Time
}

type dataStore interface {
	GetScript(context.Context, string) (store.Script, error)
	ListScripts(context.Context) ([]store.Script, error)
	UpsertScript(context.Context, store.Script) (store.Script, error)
	ListAlternatives(context.Context, string) ([]store.Alternative, error)
	InsertAlternative(context.Context, store.Alternative) (store.Alternative, error)
	DeleteAlternative(context.Context, string, string) error
	CreateSubmission(context.Context, store.Submission) (store.Submission, error)
	GetSubmission(context.Context, string) (store.Submission, error)
	ListApprovedSubmissions(context.Context, string) ([]store.Submission, error)
	ListUserSubmissions(context.Context, string, string) ([]store.Submission, error)
	ListPendingSubmissions(context.Context) ([]store.Submission, error)
	UpdateSubmissionText(context.Context, string, string, string, int) (store.Submission, error)
	PromoteSubmission(context.Context, string, string, time.Time) (store.Submission, store.Alternative, error)
	RejectSubmission(context.Context, string, string, string, time.Time) (store.Submission, error)
	UserRoles(context.Context, string) ([]string, error)
	ListRoleMembers(context.Context) (map[string][]string, error)
	Ping(ctx context.Context) error
}

type searchService interface {
	Search(context.Context, search.Query) search.Response
	IndexScript(string, string)
	IndexAlternative(string, string, string)
	DeleteAlternative(string)
	ReindexAllFromPG(context.Context)
}

type historyService interface {
	Record(string, string, string, string) (history.Revision, error)
	List(string, int) ([]history.Revision, error)
	At(string, string) (history.Snapshot, error)
}

type exporter interface {
	Export(context.Context, export.Sheet, export.Format) (*export.Result, error)
}

// Deps are the collaborators the service is assembled from. Store and Selections
// are required; the rest fall back to local defaults.
type Deps struct {
	Store      dataStore
	Selections selection.Store
	Search     searchService
	History    historyService
	Export     exporter
	Logger     *slog.Logger
	Metrics    *observability.Metrics
}

type Service struct {
	cfg        config.Config
	store      dataStore
	selections *selection.Manager
	queue      *commands.Queue
	inbox      *commands.Inbox
	moderation *moderation.Service
	roles      *rbac.Resolver
	roleCache  *rbac.Cache
	engine     *render.Engine
	search     searchService
	history    historyService
	exporter   exporter
	limiter    *ratelimit.PerUser
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time

	sessionsMu sync.Mutex
	sessions   map[string]*selection.Session
}

func New(cfg config.Config, deps Deps) (*Service, error) {
	if deps.Store == nil || deps.Selections == nil {
		return nil, errors.New("app: store and selection store are required")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("app: load timezone: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Search == nil {
		deps.Search = search.NewService(nil, nil, logger)
	}
	if deps.History == nil {
		deps.History = history.New(cfg.HistoryDir)
	}
	if deps.Export == nil {
		deps.Export = export.NewService()
	}

	sentinels := rbac.Sentinels{Admin: cfg.SentinelAdmin, Manager: cfg.SentinelManager}
	resolver := rbac.NewResolver(sentinels, deps.Store)
	inbox := commands.NewInbox(0)

	return &Service{
		cfg:        cfg,
		store:      deps.Store,
		selections: selection.NewManager(deps.Selections),
		queue:      commands.NewQueue(inbox, logger, commands.WithMetrics(deps.Metrics)),
		inbox:      inbox,
		moderation: moderation.NewService(deps.Store, resolver, logger, deps.Metrics),
		roles:      resolver,
		roleCache:  rbac.NewCache(sentinels, deps.Store, cfg.RoleCacheTTL),
		engine:     render.New(render.WithLocation(loc)),
		search:     deps.Search,
		history:    deps.History,
		exporter:   deps.Export,
		limiter:    ratelimit.NewPerUser(cfg.SubmissionRate, cfg.SubmissionBurst),
		metrics:    deps.Metrics,
		logger:     logger,
		now:        time.Now,
		sessions:   make(map[string]*selection.Session),
	}, nil
}

// Bootstrap warms the role snapshot and the search index. Neither failure stops
// the service from starting.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.RefreshRoles(ctx); err != nil {
		s.logger.Warn("initial role refresh failed", "error", err)
	}
	s.search.ReindexAllFromPG(ctx)
	return nil
}

func (s *Service) Login(ctx context.Context, userID, name string) (Session, error) {
	userID = strings.TrimSpace(userID)
	userName := strings.TrimSpace(name)
	if userID == "" {
		userID = userName
	}
	if userID == "" {
		return Session{}, validationError("userId is required")
	}
	if userName == "" {
		userName = userID
	}

	now := s.now()
	claims := auth.NewClaims(userID, userName, s.cfg.AccessTTL, now)
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), claims)
	if err != nil {
		return Session{}, err
	}
	if s.isSentinel(userID) {
		s.logger.Warn("sentinel identity signed in", "user_id", userID)
	} else {
		s.logger.Info("agent signed in", "user_id", userID)
	}
	return Session{
		Token:     token,
		UserID:    userID,
		UserName:  userName,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// isSentinel reports whether userID is one of the configured fixed-role identities.
// Login takes any id on trust, so these sign-ins are logged loudly.
func (s *Service) isSentinel(userID string) bool {
	return (s.cfg.SentinelAdmin != "" && userID == s.cfg.SentinelAdmin) ||
		(s.cfg.SentinelManager != "" && userID == s.cfg.SentinelManager)
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseTokenAt([]byte(s.cfg.TokenSecret), token, s.now())
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// DisplayRole is the role used to show or hide UI controls. It can lag behind
// membership changes and never authorizes anything.
func (s *Service) DisplayRole(userID string) rbac.Role {
	return s.roleCache.Peek(userID)
}

// RefreshRoles reloads the role snapshot behind DisplayRole.
func (s *Service) RefreshRoles(ctx context.Context) error {
	return s.roleCache.Refresh(ctx)
}

// RoleCacheStale reports whether the role snapshot is older than its TTL.
func (s *Service) RoleCacheStale() bool {
	return s.roleCache.Stale(s.now())
}

func (s *Service) Notifications(session Session) []commands.Notification {
	return s.inbox.Drain(session.UserID)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close flushes pending corrections for every open agent session and waits for
// the command queue to drain.
func (s *Service) Close() {
	s.sessionsMu.Lock()
	for userID, sess := range s.sessions {
		sess.Flush()
		sess.Close()
		delete(s.sessions, userID)
	}
	s.sessionsMu.Unlock()
	s.queue.Close()
}

// Wait blocks until every queued persistence command has finished.
func (s *Service) Wait() {
	s.queue.Wait()
}

// agentSession returns the view-state owner for userID, expiring idle ones.
func (s *Service) agentSession(userID string) *selection.Session {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	now := s.now()
	for id, sess := range s.sessions {
		if id != userID && s.cfg.SessionTTL > 0 && now.Sub(sess.LastUsed()) > s.cfg.SessionTTL {
			sess.Flush()
			sess.Close()
			delete(s.sessions, id)
		}
	}

	if sess, ok := s.sessions[userID]; ok {
		return sess
	}
	sess := selection.NewSession(userID, s.selections, s.queue,
		selection.WithDebounce(s.cfg.CorrectionDebounce),
		selection.WithCycleGuard(s.cfg.CycleGuard),
		selection.WithLogger(s.logger),
		selection.WithMetrics(s.metrics),
	)
	s.sessions[userID] = sess
	return sess
}

func (s *Service) requireAction(ctx context.Context, userID string, action rbac.Action) error {
	role, err := s.roles.Resolve(ctx, userID)
	if err != nil {
		return err
	}
	if !rbac.Can(role, action) {
		s.logger.Warn("action denied", "user_id", userID, "action", action, "role", role)
		return forbidden()
	}
	return nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
