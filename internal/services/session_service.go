package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"table-service/internal/apperrors"
	"table-service/internal/events"
	"table-service/internal/logger"
	"table-service/internal/models"
	"table-service/internal/snapshot"
	"table-service/internal/utils"
)

// sessionTransitions lists the forward moves of a customer session. closed
// and expired are reachable from every non-terminal status and are added in
// sessionTransitionAllowed.
var sessionTransitions = map[models.SessionStatus][]models.SessionStatus{
	models.SessionPending:          {models.SessionBrowsing, models.SessionCartActive, models.SessionOrderPlaced},
	models.SessionBrowsing:         {models.SessionCartActive, models.SessionOrderPlaced},
	models.SessionCartActive:       {models.SessionBrowsing, models.SessionOrderPlaced},
	models.SessionOrderPlaced:      {models.SessionBrowsing, models.SessionCartActive, models.SessionAwaitingPayment, models.SessionPaymentCompleted},
	models.SessionAwaitingPayment:  {models.SessionOrderPlaced, models.SessionPaymentCompleted},
	models.SessionPaymentCompleted: {},
	models.SessionClosed:           {},
	models.SessionExpired:          {},
}

func sessionTransitionAllowed(from, to models.SessionStatus) bool {
	if from.Terminal() {
		return false
	}
	if to.Terminal() {
		return true
	}
	for _, next := range sessionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type SessionConfig struct {
	TTL       time.Duration
	Extension time.Duration
}

type SessionService struct {
	store     *SessionStore
	tables    *TableService
	validator QRValidator
	bus       EventPublisher
	log       *logger.Logger
	cfg       SessionConfig
	now       func() time.Time
}

func NewSessionService(store *SessionStore, tables *TableService, validator QRValidator, bus EventPublisher, log *logger.Logger, cfg SessionConfig) *SessionService {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.Extension <= 0 {
		cfg.Extension = 15 * time.Minute
	}
	return &SessionService{
		store:     store,
		tables:    tables,
		validator: validator,
		bus:       bus,
		log:       log,
		cfg:       cfg,
		now:       time.Now,
	}
}

func sessionNotFound(id string) error {
	return apperrors.NotFound(apperrors.CodeSessionNotFound, fmt.Sprintf("session %s not found", id), id)
}

// ClientInfo is what the transport knows about the caller.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// CreateSession opens a browsing session from a scanned table QR token.
// Nothing is stored when the token does not check out.
func (s *SessionService) CreateSession(ctx context.Context, req models.CreateSessionRequest, client ClientInfo) (*models.QRSession, error) {
	if req.Token == "" {
		return nil, apperrors.Validation("token", "qr token is required")
	}

	claims, err := s.validator.Validate(req.Token)
	if err != nil {
		s.log.LogSecurity("QR_REJECTED", fmt.Sprintf("QR token rejected from %s: %v", client.IPAddress, err))
		return nil, err
	}

	table, err := s.tables.GetTable(ctx, claims.TableID)
	if err != nil {
		return nil, err
	}
	if table.QRToken != "" && table.QRToken != req.Token {
		s.log.LogSecurity("QR_SUPERSEDED", fmt.Sprintf("Superseded QR token used for table %s", table.ID))
		return nil, apperrors.Conflict(apperrors.CodeTokenInvalid, "qr code is no longer valid for this table").
			With("tableId", table.ID)
	}

	session, err := snapshot.Apply(ctx, s.store, "create_session", func(d *snapshot.Data[models.SessionStoreData]) (models.QRSession, error) {
		now := s.now().UTC()
		sess := models.QRSession{
			ID:             utils.GenerateSessionID(),
			TableID:        table.ID,
			TableNumber:    table.Number,
			Zone:           table.Zone,
			Token:          req.Token,
			Status:         models.SessionPending,
			CreatedAt:      now,
			LastActivityAt: now,
			ExpiresAt:      now.Add(s.cfg.TTL),
			OrderIDs:       []string{},
			IPAddress:      client.IPAddress,
			UserAgent:      client.UserAgent,
			Metadata:       req.Metadata,
		}
		d.Entities.Sessions = append(d.Entities.Sessions, sess)
		return sess, nil
	})
	if err != nil {
		s.log.Error("SESSION", fmt.Sprintf("Failed to create session for table %s: %v", table.ID, err))
		return nil, err
	}

	s.log.LogSession("CREATE", session.ID, fmt.Sprintf("Session opened at table %s, expires %s", session.TableNumber, session.ExpiresAt.Format(time.RFC3339)))
	s.bus.Publish(events.SessionCreated, session)
	return &session, nil
}

func (s *SessionService) GetSession(ctx context.Context, id string) (*models.QRSession, error) {
	d, err := s.store.Read()
	if err != nil {
		return nil, err
	}
	_, sess := d.Entities.FindSession(id)
	if sess == nil {
		return nil, sessionNotFound(id)
	}
	return sess, nil
}

// ValidateSession checks that a session can still be used and stamps its
// activity. An expired session is left as is.
func (s *SessionService) ValidateSession(ctx context.Context, id string) (*models.QRSession, error) {
	type result struct {
		session models.QRSession
		err     error
	}

	res, err := snapshot.Apply(ctx, s.store, "validate_session", func(d *snapshot.Data[models.SessionStoreData]) (result, error) {
		_, sess := d.Entities.FindSession(id)
		if sess == nil {
			return result{}, sessionNotFound(id)
		}
		now := s.now().UTC()
		switch {
		case sess.Status == models.SessionClosed:
			return result{}, apperrors.Conflict(apperrors.CodeSessionClosed, "session is closed").With("sessionId", id)
		case !sess.ExpiresAt.After(now):
			return result{}, apperrors.Conflict(apperrors.CodeSessionExpired, "session has expired").
				With("sessionId", id).
				With("expiresAt", sess.ExpiresAt)
		case s.validator.IsTokenExpired(sess.Token):
			return result{}, apperrors.Conflict(apperrors.CodeQRTokenExpired, "the table qr code has expired").
				With("sessionId", id).
				With("tableId", sess.TableID)
		}
		sess.LastActivityAt = now
		return result{session: *sess}, nil
	})
	if err != nil {
		if !apperrors.HasCode(err, apperrors.CodeSessionNotFound) {
			s.log.LogSession("VALIDATE", id, fmt.Sprintf("Session rejected: %v", err))
		}
		return nil, err
	}
	return &res.session, nil
}

// mutateSession runs fn against one session inside the store queue.
func (s *SessionService) mutateSession(ctx context.Context, op, id string, fn func(sess *models.QRSession, now time.Time) (bool, error)) (*models.QRSession, bool, error) {
	type result struct {
		session models.QRSession
		changed bool
	}
	res, err := snapshot.Apply(ctx, s.store, op, func(d *snapshot.Data[models.SessionStoreData]) (result, error) {
		_, sess := d.Entities.FindSession(id)
		if sess == nil {
			return result{}, sessionNotFound(id)
		}
		changed, err := fn(sess, s.now().UTC())
		if err != nil {
			return result{}, err
		}
		return result{session: *sess, changed: changed}, nil
	})
	if err != nil {
		if !apperrors.HasCode(err, apperrors.CodeSessionNotFound) {
			s.log.Error("SESSION", fmt.Sprintf("Operation %s on session %s failed: %v", op, id, err))
		}
		return nil, false, err
	}
	return &res.session, res.changed, nil
}

func (s *SessionService) applyStatus(sess *models.QRSession, to models.SessionStatus, now time.Time) (bool, error) {
	if _, known := sessionTransitions[to]; !known {
		return false, apperrors.Validation("status", fmt.Sprintf("unknown session status %q", to))
	}
	if sess.Status == to {
		return false, nil
	}
	if !sessionTransitionAllowed(sess.Status, to) {
		return false, apperrors.InvalidTransition("session", string(sess.Status), string(to)).With("sessionId", sess.ID)
	}
	sess.Status = to
	if to.Terminal() {
		sess.ClosedAt = &now
	}
	return true, nil
}

func (s *SessionService) UpdateSession(ctx context.Context, id string, upd models.SessionUpdate) (*models.QRSession, error) {
	if upd.CartItemsCount != nil && *upd.CartItemsCount < 0 {
		return nil, apperrors.Validation("cartItemsCount", "cart items count cannot be negative")
	}

	sess, changed, err := s.mutateSession(ctx, "update_session", id, func(sess *models.QRSession, now time.Time) (bool, error) {
		changed := false
		if upd.Status != nil {
			moved, err := s.applyStatus(sess, *upd.Status, now)
			if err != nil {
				return false, err
			}
			changed = changed || moved
		}
		if upd.CartItemsCount != nil && *upd.CartItemsCount != sess.CartItemsCount {
			sess.CartItemsCount = *upd.CartItemsCount
			changed = true
		}
		if upd.OrderID != "" {
			sess.OrderIDs = append(sess.OrderIDs, upd.OrderID)
			changed = true
		}
		if len(upd.Metadata) > 0 {
			if sess.Metadata == nil {
				sess.Metadata = make(map[string]any, len(upd.Metadata))
			}
			for k, v := range upd.Metadata {
				sess.Metadata[k] = v
			}
			changed = true
		}
		if upd.Extend {
			if sess.Status.Terminal() {
				return false, apperrors.Conflict(apperrors.CodeSessionClosed, "cannot extend a finished session").With("sessionId", sess.ID)
			}
			sess.ExpiresAt = now.Add(s.cfg.Extension)
			changed = true
		}
		sess.LastActivityAt = now
		return changed, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.bus.Publish(events.SessionUpdated, sess)
	}
	return sess, nil
}

// CloseSession is idempotent; closing an already finished session returns it
// unchanged.
func (s *SessionService) CloseSession(ctx context.Context, id string) (*models.QRSession, error) {
	sess, changed, err := s.mutateSession(ctx, "close_session", id, func(sess *models.QRSession, now time.Time) (bool, error) {
		if sess.Status.Terminal() {
			return false, nil
		}
		return s.applyStatus(sess, models.SessionClosed, now)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.log.LogSession("CLOSE", id, "Session closed")
		s.bus.Publish(events.SessionClosed, sess)
	}
	return sess, nil
}

func (s *SessionService) ExtendSession(ctx context.Context, id string) (*models.QRSession, error) {
	sess, err := s.UpdateSession(ctx, id, models.SessionUpdate{Extend: true})
	if err != nil {
		return nil, err
	}
	s.log.LogSession("EXTEND", id, fmt.Sprintf("Session extended until %s", sess.ExpiresAt.Format(time.RFC3339)))
	return sess, nil
}

// AttachOrder records an order on the session and moves it to order_placed
// when its status allows.
func (s *SessionService) AttachOrder(ctx context.Context, id, orderID string) error {
	sess, changed, err := s.mutateSession(ctx, "attach_order", id, func(sess *models.QRSession, now time.Time) (bool, error) {
		if sess.HasOrder(orderID) {
			return false, nil
		}
		sess.OrderIDs = append(sess.OrderIDs, orderID)
		if sessionTransitionAllowed(sess.Status, models.SessionOrderPlaced) {
			sess.Status = models.SessionOrderPlaced
			sess.CartItemsCount = 0
		}
		sess.LastActivityAt = now
		return true, nil
	})
	if err != nil {
		return err
	}
	if !changed {
		s.log.LogSession("ATTACH_ORDER", id, fmt.Sprintf("Order %s already linked", orderID))
		return nil
	}
	s.bus.Publish(events.SessionUpdated, sess)
	return nil
}

// ListTableSessions returns a table's sessions, newest first.
func (s *SessionService) ListTableSessions(ctx context.Context, tableID string, includeFinished bool) ([]models.QRSession, error) {
	d, err := s.store.Read()
	if err != nil {
		return nil, err
	}
	out := []models.QRSession{}
	for _, sess := range d.Entities.Sessions {
		if sess.TableID != tableID {
			continue
		}
		if !includeFinished && sess.Status.Terminal() {
			continue
		}
		out = append(out, sess)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MoveTableSessions moves every live session of a table to status, skipping
// the ones whose current status has no such edge. It returns the moved
// sessions.
func (s *SessionService) MoveTableSessions(ctx context.Context, tableID string, status models.SessionStatus) ([]models.QRSession, error) {
	moved, err := snapshot.Apply(ctx, s.store, "move_table_sessions", func(d *snapshot.Data[models.SessionStoreData]) ([]models.QRSession, error) {
		now := s.now().UTC()
		var out []models.QRSession
		for i := range d.Entities.Sessions {
			sess := &d.Entities.Sessions[i]
			if sess.TableID != tableID || sess.Status == status || !sessionTransitionAllowed(sess.Status, status) {
				continue
			}
			sess.Status = status
			sess.LastActivityAt = now
			if status.Terminal() {
				sess.ClosedAt = &now
			}
			out = append(out, *sess)
		}
		return out, nil
	})
	if err != nil {
		s.log.Error("SESSION", fmt.Sprintf("Failed to move sessions of table %s to %s: %v", tableID, status, err))
		return nil, err
	}
	for i := range moved {
		s.bus.Publish(events.SessionUpdated, moved[i])
	}
	return moved, nil
}

// ExpireStale marks every live session past its expiry as expired.
func (s *SessionService) ExpireStale(ctx context.Context) (int, error) {
	expired, err := snapshot.Apply(ctx, s.store, "expire_sessions", func(d *snapshot.Data[models.SessionStoreData]) ([]models.QRSession, error) {
		now := s.now().UTC()
		var out []models.QRSession
		for i := range d.Entities.Sessions {
			sess := &d.Entities.Sessions[i]
			if sess.Status.Terminal() || sess.ExpiresAt.After(now) {
				continue
			}
			sess.Status = models.SessionExpired
			sess.ClosedAt = &now
			out = append(out, *sess)
		}
		return out, nil
	})
	if err != nil {
		return 0, err
	}
	for i := range expired {
		s.log.LogSession("EXPIRE", expired[i].ID, "Session expired")
		s.bus.Publish(events.SessionUpdated, expired[i])
	}
	return len(expired), nil
}

func cleanupMatches(sess *models.QRSession, opts models.CleanupOptions, statuses map[models.SessionStatus]bool, now time.Time) bool {
	if opts.IncludeExpired && !sess.ExpiresAt.After(now) {
		return true
	}
	if !statuses[sess.Status] {
		return false
	}
	if opts.OlderThan > 0 && sess.LastActivityAt.After(now.Add(-opts.OlderThan)) {
		return false
	}
	return true
}

// Cleanup removes sessions by status and age. With DryRun set it only
// reports what would go.
func (s *SessionService) Cleanup(ctx context.Context, opts models.CleanupOptions) (*models.CleanupResult, error) {
	if opts.OlderThan < 0 {
		return nil, apperrors.Validation("olderThan", "olderThan cannot be negative")
	}
	statuses := make(map[models.SessionStatus]bool)
	for _, st := range opts.Statuses {
		if _, known := sessionTransitions[st]; !known {
			return nil, apperrors.Validation("statuses", fmt.Sprintf("unknown session status %q", st))
		}
		statuses[st] = true
	}
	if len(statuses) == 0 {
		statuses[models.SessionClosed] = true
		statuses[models.SessionExpired] = true
	}

	collect := func(sessions []models.QRSession, now time.Time) (keep []models.QRSession, removed []string) {
		keep = make([]models.QRSession, 0, len(sessions))
		removed = []string{}
		for i := range sessions {
			if cleanupMatches(&sessions[i], opts, statuses, now) {
				removed = append(removed, sessions[i].ID)
				continue
			}
			keep = append(keep, sessions[i])
		}
		return keep, removed
	}

	var removed []string
	var err error
	if opts.DryRun {
		removed, err = snapshot.View(ctx, s.store, "cleanup_dry_run", func(d snapshot.Data[models.SessionStoreData]) ([]string, error) {
			_, ids := collect(d.Entities.Sessions, s.now().UTC())
			return ids, nil
		})
	} else {
		removed, err = snapshot.Apply(ctx, s.store, "cleanup", func(d *snapshot.Data[models.SessionStoreData]) ([]string, error) {
			keep, ids := collect(d.Entities.Sessions, s.now().UTC())
			d.Entities.Sessions = keep
			return ids, nil
		})
	}
	if err != nil {
		s.log.Error("SESSION", fmt.Sprintf("Session cleanup failed: %v", err))
		return nil, err
	}

	res := &models.CleanupResult{DryRun: opts.DryRun, Removed: removed, Count: len(removed)}
	if !opts.DryRun && res.Count > 0 {
		s.log.Info("SESSION", fmt.Sprintf("Cleanup removed %d sessions", res.Count))
		s.bus.Publish(events.SessionsCleaned, res)
	}
	return res, nil
}
