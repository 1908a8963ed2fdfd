package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/installations/internal/clock"
	"github.com/custodia-labs/installations/internal/core/domain"
	"github.com/custodia-labs/installations/internal/core/ports/driven"
	"github.com/custodia-labs/installations/internal/core/ports/driving"
	"github.com/custodia-labs/installations/internal/future"
	"github.com/custodia-labs/installations/internal/worker"
)

// Ensure installationsService implements InstallationsService
var _ driving.InstallationsService = (*installationsService)(nil)

const (
	// maxCommitAttempts bounds the read-validate-CAS loop of a single transition.
	maxCommitAttempts = 8

	// maxTransitions bounds how many state changes one GetToken or Delete walks through.
	maxTransitions = 4

	registrationRejectedMessage = "BAD CONFIG"
)

// errCommitConflict is returned when the entry kept changing under a transition.
var errCommitConflict = errors.New("installation entry changed concurrently")

// InstallationsServiceConfig holds configuration for the installations service.
type InstallationsServiceConfig struct {
	// Options identifies the app towards the backend.
	Options domain.Options

	// Store persists the single installation entry.
	Store driven.EntryStore

	// Client talks to the registration backend.
	Client driven.ServiceClient

	// FIDs generates new identifiers.
	FIDs driven.FIDGenerator

	// LegacyIDs supplies a legacy instance id to adopt (optional).
	LegacyIDs driven.LegacyIDStore

	// Clock defaults to the system clock.
	Clock driven.Clock

	// Pool runs background work. When nil the service starts and owns its own pool.
	Pool *worker.Pool

	// RefreshBuffer refreshes tokens this long before they expire. Zero refreshes exactly at expiry.
	RefreshBuffer time.Duration

	Logger *slog.Logger
}

// installationsService implements the InstallationsService interface.
type installationsService struct {
	opts          domain.Options
	store         driven.EntryStore
	client        driven.ServiceClient
	fids          driven.FIDGenerator
	legacyIDs     driven.LegacyIDStore
	clock         driven.Clock
	pool          *worker.Pool
	ownsPool      bool
	refreshBuffer int64
	logger        *slog.Logger

	// genMu serializes identifier generation within the process.
	genMu sync.Mutex

	// inflight coalesces registration, refresh and delete calls per FID.
	inflight singleflight.Group

	// followUps holds FIDs with a GetID background task queued or running.
	followUpsMu sync.Mutex
	followUps   map[string]struct{}

	// overflow tracks tasks started outside the pool while its queue was full.
	overflow sync.WaitGroup

	listenersMu  sync.Mutex
	listeners    map[int]driving.FIDListener
	nextListener int
	lastFID      string
}

// NewInstallationsService creates a new installations service.
func NewInstallationsService(cfg InstallationsServiceConfig) (driving.InstallationsService, error) {
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store == nil || cfg.Client == nil || cfg.FIDs == nil {
		return nil, fmt.Errorf("%w: store, client and fid generator are required", domain.ErrInvalidInput)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	pool := cfg.Pool
	ownsPool := false
	if pool == nil {
		pool = worker.NewPool(worker.PoolConfig{Logger: logger})
		if err := pool.Start(context.Background()); err != nil {
			return nil, fmt.Errorf("start worker pool: %w", err)
		}
		ownsPool = true
	}

	return &installationsService{
		opts:          cfg.Options,
		store:         cfg.Store,
		client:        cfg.Client,
		fids:          cfg.FIDs,
		legacyIDs:     cfg.LegacyIDs,
		clock:         clk,
		pool:          pool,
		ownsPool:      ownsPool,
		refreshBuffer: int64(cfg.RefreshBuffer / time.Second),
		logger:        logger.With("app", cfg.Options.Name()),
		listeners:     make(map[int]driving.FIDListener),
		followUps:     make(map[string]struct{}),
	}, nil
}

// GetID returns the persisted FID, generating one when the store is empty.
func (s *installationsService) GetID(ctx context.Context) *future.Future[string] {
	entry, err := s.getOrCreateEntry(ctx)
	if err != nil {
		return future.Failed[string](err)
	}

	fid := entry.FID
	if entry.IsUnregistered() || (entry.IsRegistered() && s.isExpired(entry)) {
		s.scheduleFollowUp(fid)
	}

	return future.Resolved(fid)
}

// scheduleFollowUp queues the background registration or refresh of fid unless one is
// already pending for it.
func (s *installationsService) scheduleFollowUp(fid string) {
	s.followUpsMu.Lock()
	if _, pending := s.followUps[fid]; pending {
		s.followUpsMu.Unlock()
		return
	}
	s.followUps[fid] = struct{}{}
	s.followUpsMu.Unlock()

	err := s.dispatch("get-id", func(ctx context.Context) error {
		defer s.clearFollowUp(fid)
		return s.registerOrRefresh(ctx, fid)
	})
	if err != nil {
		s.clearFollowUp(fid)
		s.logger.Debug("background registration not scheduled", "fid", fid, "error", err)
	}
}

func (s *installationsService) clearFollowUp(fid string) {
	s.followUpsMu.Lock()
	delete(s.followUps, fid)
	s.followUpsMu.Unlock()
}

// dispatch hands fn to the pool without waiting for a queue slot. When the queue is
// full fn runs on its own goroutine, which Close waits for.
func (s *installationsService) dispatch(name string, fn worker.Task) error {
	err := s.pool.TrySubmit(name, fn)
	if !errors.Is(err, worker.ErrQueueFull) {
		return err
	}

	s.logger.Debug("worker queue full, running task outside the pool", "task", name)
	s.overflow.Add(1)
	go func() {
		defer s.overflow.Done()
		if err := fn(context.Background()); err != nil {
			s.logger.Warn("task failed", "task", name, "error", err)
		}
	}()
	return nil
}

// GetToken returns a valid auth token, driving registration and refresh as needed.
func (s *installationsService) GetToken(ctx context.Context, forceRefresh bool) *future.Future[domain.InstallationToken] {
	if _, err := s.getOrCreateEntry(ctx); err != nil {
		return future.Failed[domain.InstallationToken](err)
	}

	f := future.New[domain.InstallationToken]()
	err := s.dispatch("get-token", func(ctx context.Context) error {
		tok, err := s.fetchToken(ctx, forceRefresh)
		f.Complete(tok, err)
		return err
	})
	if err != nil {
		f.Reject(s.submitError(err))
	}
	return f
}

// Delete unregisters the installation and resets the local entry.
func (s *installationsService) Delete(ctx context.Context) *future.Future[struct{}] {
	f := future.New[struct{}]()
	err := s.dispatch("delete", func(ctx context.Context) error {
		err := s.deleteEntry(ctx)
		f.Complete(struct{}{}, err)
		return err
	})
	if err != nil {
		f.Reject(s.submitError(err))
	}
	return f
}

// RegisterFIDListener adds a listener for FID changes.
func (s *installationsService) RegisterFIDListener(fn driving.FIDListener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

// Close stops the owned worker pool and waits for tasks started outside it.
// A shared pool is left to its owner.
func (s *installationsService) Close() {
	if s.ownsPool {
		s.pool.Stop()
	}
	s.overflow.Wait()
}

func (s *installationsService) submitError(err error) error {
	if errors.Is(err, worker.ErrStopped) {
		return domain.ErrClosed
	}
	return err
}

// getOrCreateEntry returns an entry holding a FID, adopting a legacy id or generating one
// when the store is empty. Generation is serialized in-process and committed with CAS so
// every caller observes the same persisted FID.
func (s *installationsService) getOrCreateEntry(ctx context.Context) (domain.InstallationEntry, error) {
	entry, err := s.readEntry(ctx)
	if err != nil {
		return entry, err
	}
	if entry.HasFID() {
		s.observeFID(entry.FID)
		return entry, nil
	}

	s.genMu.Lock()
	defer s.genMu.Unlock()

	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		current, err := s.readEntry(ctx)
		if err != nil {
			return current, err
		}
		if current.HasFID() {
			s.observeFID(current.FID)
			return current, nil
		}

		next := domain.DeriveInitialEntry(s.readLegacyID(ctx), s.fids.CreateRandomFID)
		ok, err := s.store.CompareAndSwap(ctx, current, next)
		if err != nil {
			return current, fmt.Errorf("persist installation id: %w", err)
		}
		if ok {
			s.logger.Info("installation id created", "fid", next.FID)
			s.observeFID(next.FID)
			return next, nil
		}
	}
	return domain.InstallationEntry{}, fmt.Errorf("persist installation id: %w", errCommitConflict)
}

func (s *installationsService) readLegacyID(ctx context.Context) string {
	if s.legacyIDs == nil {
		return ""
	}
	id, err := s.legacyIDs.ReadLegacyID(ctx)
	if err != nil {
		s.logger.Warn("failed to read legacy instance id", "error", err)
		return ""
	}
	return id
}

func (s *installationsService) readEntry(ctx context.Context) (domain.InstallationEntry, error) {
	entry, err := s.store.Read(ctx)
	if err != nil {
		return domain.NotGeneratedEntry(), fmt.Errorf("read installation entry: %w", err)
	}
	return entry.Normalize(), nil
}

// registerOrRefresh is the background follow-up of GetID.
func (s *installationsService) registerOrRefresh(ctx context.Context, fid string) error {
	entry, err := s.readEntry(ctx)
	if err != nil {
		return err
	}
	if entry.FID != fid {
		return nil
	}

	switch {
	case entry.IsUnregistered():
		return s.register(ctx, fid)
	case entry.IsRegistered() && s.isExpired(entry):
		_, err := s.sharedRefresh(ctx, fid)
		return err
	}
	return nil
}

// fetchToken walks the entry towards REGISTERED and returns its token.
func (s *installationsService) fetchToken(ctx context.Context, forceRefresh bool) (domain.InstallationToken, error) {
	for i := 0; i < maxTransitions; i++ {
		entry, err := s.readEntry(ctx)
		if err != nil {
			return domain.InstallationToken{}, err
		}

		switch {
		case entry.IsNotGenerated():
			if _, err := s.getOrCreateEntry(ctx); err != nil {
				return domain.InstallationToken{}, err
			}

		case entry.IsUnregistered():
			if err := s.register(ctx, entry.FID); err != nil {
				return domain.InstallationToken{}, err
			}
			// A fresh registration already carries a fresh token.
			forceRefresh = false

		case entry.IsErrored():
			return domain.InstallationToken{}, domain.NewError(domain.StatusBadConfig, entry.FisError, domain.ErrRegistrationRejected)

		case entry.IsRegistered():
			if forceRefresh {
				return s.refresh(ctx, entry)
			}
			if !s.isExpired(entry) {
				return domain.TokenFromEntry(entry), nil
			}
			return s.sharedRefresh(ctx, entry.FID)

		default:
			return domain.InstallationToken{}, fmt.Errorf("%w: status %q", domain.ErrInvalidEntry, entry.Status)
		}
	}
	return domain.InstallationToken{}, domain.NewError(domain.StatusUnavailable, "installation kept changing while fetching a token", errCommitConflict)
}

// register registers fid with the backend. Concurrent callers for the same FID share one call.
func (s *installationsService) register(ctx context.Context, fid string) error {
	_, err, shared := s.inflight.Do("register:"+fid, func() (any, error) {
		return nil, s.registerFID(ctx, fid)
	})
	if shared {
		s.logger.Debug("joined in-flight registration", "fid", fid)
	}
	return err
}

func (s *installationsService) registerFID(ctx context.Context, fid string) error {
	entry, err := s.readEntry(ctx)
	if err != nil {
		return err
	}
	if entry.FID != fid || !entry.IsUnregistered() {
		return nil
	}

	logger := s.logger.With("fid", fid)
	resp, err := s.client.CreateInstallation(ctx, s.opts.APIKey, fid, s.opts.ProjectID, s.opts.AppID)
	if err != nil {
		err = asBackendFailure("create installation", err)
		logger.Warn("registration failed, will retry on next call", "error", err)
		return err
	}

	stillUnregistered := func(cur domain.InstallationEntry) bool {
		return cur.FID == fid && cur.IsUnregistered()
	}

	switch resp.ResponseCode {
	case domain.ResponseOK:
		if resp.RefreshToken == "" || resp.AuthToken.Token == "" {
			return domain.NewError(domain.StatusUnavailable, "registration response is missing tokens", domain.ErrUnregistered)
		}
		assigned := resp.FID
		if assigned == "" {
			assigned = fid
		}
		now := s.now()
		next, committed, err := s.commit(ctx, stillUnregistered, func(cur domain.InstallationEntry) domain.InstallationEntry {
			return cur.WithRegisteredFID(assigned, resp.RefreshToken, now, resp.AuthToken.Token, resp.AuthToken.ExpiresInSecs)
		})
		if err != nil {
			return err
		}
		if !committed {
			logger.Info("discarding registration of superseded installation")
			return nil
		}
		if assigned != fid {
			logger.Info("backend assigned a different installation id", "assigned_fid", assigned)
		}
		logger.Info("installation registered", "expires_in_secs", next.ExpiresInSecs)
		return nil

	case domain.ResponseBadConfig:
		_, committed, err := s.commit(ctx, stillUnregistered, func(cur domain.InstallationEntry) domain.InstallationEntry {
			return cur.WithFisError(registrationRejectedMessage)
		})
		if err != nil {
			return err
		}
		if committed {
			logger.Error("backend rejected the registration, giving up on this installation id")
		}
		return nil

	default:
		return domain.NewError(domain.StatusUnavailable, fmt.Sprintf("unexpected registration response %q", resp.ResponseCode), domain.ErrUnregistered)
	}
}

// sharedRefresh refreshes the token of fid, coalescing with any refresh already in flight.
func (s *installationsService) sharedRefresh(ctx context.Context, fid string) (domain.InstallationToken, error) {
	v, err, shared := s.inflight.Do("refresh:"+fid, func() (any, error) {
		entry, err := s.readEntry(ctx)
		if err != nil {
			return domain.InstallationToken{}, err
		}
		if entry.FID != fid || !entry.IsRegistered() {
			return domain.InstallationToken{}, domain.NewError(domain.StatusUnavailable, "", domain.ErrNotRegistered)
		}
		if !s.isExpired(entry) {
			return domain.TokenFromEntry(entry), nil
		}
		return s.refresh(ctx, entry)
	})
	if shared {
		s.logger.Debug("joined in-flight token refresh", "fid", fid)
	}
	tok, _ := v.(domain.InstallationToken)
	return tok, err
}

// refresh asks the backend for a new auth token of a REGISTERED entry.
func (s *installationsService) refresh(ctx context.Context, entry domain.InstallationEntry) (domain.InstallationToken, error) {
	logger := s.logger.With("fid", entry.FID)

	res, err := s.client.GenerateAuthToken(ctx, s.opts.APIKey, entry.FID, s.opts.ProjectID, entry.RefreshToken)
	if err != nil {
		return domain.InstallationToken{}, asBackendFailure("generate auth token", err)
	}

	sameInstallation := func(cur domain.InstallationEntry) bool {
		return cur.IsRegistered() && cur.FID == entry.FID && cur.RefreshToken == entry.RefreshToken
	}

	switch res.ResponseCode {
	case domain.ResponseOK:
		if res.Token == "" {
			return domain.InstallationToken{}, domain.NewError(domain.StatusUnavailable, "token response is missing the token", nil)
		}
		now := s.now()
		next, committed, err := s.commit(ctx, sameInstallation, func(cur domain.InstallationEntry) domain.InstallationEntry {
			return cur.WithAuthToken(res.Token, res.ExpiresInSecs, now)
		})
		if err != nil {
			return domain.InstallationToken{}, err
		}
		if !committed {
			logger.Info("discarding token of superseded installation")
			return domain.InstallationToken{}, domain.NewError(domain.StatusUnavailable, "installation changed while refreshing its token", domain.ErrNotRegistered)
		}
		logger.Debug("auth token refreshed", "expires_in_secs", next.ExpiresInSecs)
		return domain.TokenFromEntry(next), nil

	case domain.ResponseAuthError:
		_, committed, err := s.commit(ctx, sameInstallation, func(cur domain.InstallationEntry) domain.InstallationEntry {
			return cur.WithNoGeneratedFID()
		})
		if err != nil {
			return domain.InstallationToken{}, err
		}
		if committed {
			logger.Warn("backend no longer recognizes the installation, local entry reset")
		}
		return domain.InstallationToken{}, domain.NewTransportError("generate auth token", domain.ErrNotRegistered)

	default:
		return domain.InstallationToken{}, domain.NewError(domain.StatusBadConfig, "", domain.ErrRegistrationRejected)
	}
}

// deleteEntry removes the installation, calling the backend only for registered entries.
func (s *installationsService) deleteEntry(ctx context.Context) error {
	for i := 0; i < maxTransitions; i++ {
		entry, err := s.readEntry(ctx)
		if err != nil {
			return err
		}
		if entry.IsNotGenerated() {
			return nil
		}

		if entry.IsRegistered() {
			_, err, _ := s.inflight.Do("delete:"+entry.FID, func() (any, error) {
				return nil, s.deleteRegistered(ctx, entry)
			})
			if err != nil {
				return err
			}
			continue
		}

		// Never registered, so the backend has nothing to forget.
		if _, _, err := s.commit(ctx, func(cur domain.InstallationEntry) bool {
			return cur == entry
		}, func(cur domain.InstallationEntry) domain.InstallationEntry {
			return cur.WithNoGeneratedFID()
		}); err != nil {
			return err
		}
	}
	return domain.NewError(domain.StatusUnavailable, "installation kept changing while deleting", errCommitConflict)
}

func (s *installationsService) deleteRegistered(ctx context.Context, entry domain.InstallationEntry) error {
	current, err := s.readEntry(ctx)
	if err != nil {
		return err
	}
	if current.FID != entry.FID || !current.IsRegistered() {
		return nil
	}

	if err := s.client.DeleteInstallation(ctx, s.opts.APIKey, current.FID, s.opts.ProjectID, current.RefreshToken); err != nil {
		return asBackendFailure("delete installation", err)
	}

	_, committed, err := s.commit(ctx, func(cur domain.InstallationEntry) bool {
		return cur.FID == current.FID
	}, func(cur domain.InstallationEntry) domain.InstallationEntry {
		return cur.WithNoGeneratedFID()
	})
	if err != nil {
		return err
	}
	if committed {
		s.logger.Info("installation deleted", "fid", current.FID)
	}
	return nil
}

// commit applies next to the current entry if guard accepts it.
// It re-reads on every attempt and reports whether anything was written.
func (s *installationsService) commit(
	ctx context.Context,
	guard func(domain.InstallationEntry) bool,
	next func(domain.InstallationEntry) domain.InstallationEntry,
) (domain.InstallationEntry, bool, error) {
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		current, err := s.readEntry(ctx)
		if err != nil {
			return current, false, err
		}
		if !guard(current) {
			return current, false, nil
		}

		updated := next(current)
		ok, err := s.store.CompareAndSwap(ctx, current, updated)
		if err != nil {
			return current, false, fmt.Errorf("write installation entry: %w", err)
		}
		if ok {
			if updated.HasFID() {
				s.observeFID(updated.FID)
			}
			return updated, true, nil
		}
	}
	return domain.InstallationEntry{}, false, fmt.Errorf("write installation entry: %w", errCommitConflict)
}

// observeFID notifies listeners when the FID differs from the last one seen.
func (s *installationsService) observeFID(fid string) {
	s.listenersMu.Lock()
	previous := s.lastFID
	s.lastFID = fid
	if previous == "" || previous == fid {
		s.listenersMu.Unlock()
		return
	}
	listeners := make([]driving.FIDListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(fid)
	}
}

func (s *installationsService) isExpired(entry domain.InstallationEntry) bool {
	return entry.IsAuthTokenExpired(s.now(), s.refreshBuffer)
}

func (s *installationsService) now() int64 {
	return s.clock.Now().Unix()
}

// asBackendFailure keeps structured and transport failures as they are and treats
// anything else the client returned as a transport failure.
func asBackendFailure(op string, err error) error {
	if _, ok := domain.StatusOf(err); ok || domain.IsTransport(err) {
		return err
	}
	return domain.NewTransportError(op, err)
}
