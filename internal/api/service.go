package api

import (
	"errors"
	gosync "sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/master-rogerio/VCZapO-sub001/internal/bus"
	"github.com/master-rogerio/VCZapO-sub001/internal/mediacache"
	"github.com/master-rogerio/VCZapO-sub001/internal/notify"
	"github.com/master-rogerio/VCZapO-sub001/internal/outbox"
	"github.com/master-rogerio/VCZapO-sub001/internal/status"
	"github.com/master-rogerio/VCZapO-sub001/internal/store"
	"github.com/master-rogerio/VCZapO-sub001/internal/sync"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Service implements DaemonServer on top of the sync layer.
type Service struct {
	profile   string
	startedAt time.Time

	recon   *sync.Reconciler
	store   *store.Store
	media   *mediacache.Cache
	actions *notify.Actions
	sender  *outbox.Sender
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger

	mu       gosync.Mutex
	watchers map[string]int // roomID -> open WatchRoom streams
	epoch    uint64         // bumped on logout; older streams release nothing
}

var _ DaemonServer = (*Service)(nil)

// NewService creates the control surface for one profile.
func NewService(
	profile string,
	recon *sync.Reconciler,
	st *store.Store,
	media *mediacache.Cache,
	actions *notify.Actions,
	sender *outbox.Sender,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) *Service {
	return &Service{
		profile:   profile,
		startedAt: time.Now(),
		recon:     recon,
		store:     st,
		media:     media,
		actions:   actions,
		sender:    sender,
		machine:   machine,
		bus:       b,
		logger:    logger,
		watchers:  make(map[string]int),
	}
}

func (s *Service) currentUser() (string, error) {
	sess := s.recon.Session()
	if sess == nil {
		return "", grpcstatus.Error(codes.FailedPrecondition, "not logged in")
	}
	return sess.UserID(), nil
}

func pageSize(n int) int {
	switch {
	case n <= 0:
		return defaultPageSize
	case n > maxPageSize:
		return maxPageSize
	}
	return n
}

// rpcError maps a domain error to a gRPC status.
func rpcError(op string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, sync.ErrNotStarted), errors.Is(err, sync.ErrAlreadyStarted):
		code = codes.FailedPrecondition
	case errors.Is(err, store.ErrClosed):
		code = codes.Unavailable
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}

func invalid(format string, args ...any) error {
	return grpcstatus.Errorf(codes.InvalidArgument, format, args...)
}
