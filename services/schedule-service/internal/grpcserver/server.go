package grpcserver

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/md-rashed-zaman/bookslots/libs/calendar"
	"github.com/md-rashed-zaman/bookslots/libs/schedulerpc"
	"github.com/md-rashed-zaman/bookslots/services/schedule-service/internal/storage"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Store is the read side of storage.Repository used to answer input lookups.
type Store interface {
	ResolveProvider(ctx context.Context, ref string) (storage.Profile, error)
	GetService(ctx context.Context, providerID, serviceID string) (calendar.Service, error)
	WeeklyEntries(ctx context.Context, q storage.Reader, providerID string, day calendar.DayOfWeek) ([]calendar.WeeklyEntry, error)
	OverrideForDate(ctx context.Context, providerID string, date calendar.Date) (*calendar.DateOverride, error)
}

type server struct {
	store  Store
	reader storage.Reader
	logger *slog.Logger
}

// Register exposes the schedule inputs RPC on grpcServer. reader is the pool
// used for weekly entry reads.
func Register(grpcServer *grpc.Server, store Store, reader storage.Reader, logger *slog.Logger) {
	schedulerpc.RegisterServer(grpcServer, &server{store: store, reader: reader, logger: logger})
}

func (s *server) GetAvailabilityInputs(ctx context.Context, req *schedulerpc.InputsRequest) (*schedulerpc.InputsResponse, error) {
	ref := strings.TrimSpace(req.ProviderRef)
	serviceID := strings.TrimSpace(req.ServiceID)
	if ref == "" || serviceID == "" || req.Date.IsZero() {
		return nil, status.Error(codes.InvalidArgument, "provider_ref, service_id and date are required")
	}

	profile, err := s.store.ResolveProvider(ctx, ref)
	if err != nil {
		return nil, s.toStatus(err, "provider not found")
	}
	svc, err := s.store.GetService(ctx, profile.ProviderID, serviceID)
	if err != nil {
		return nil, s.toStatus(err, "service not found")
	}
	weekly, err := s.store.WeeklyEntries(ctx, s.reader, profile.ProviderID, req.Date.DayOfWeek())
	if err != nil {
		return nil, s.toStatus(err, "")
	}
	override, err := s.store.OverrideForDate(ctx, profile.ProviderID, req.Date)
	if err != nil {
		return nil, s.toStatus(err, "")
	}

	return &schedulerpc.InputsResponse{
		ProviderID:   profile.ProviderID,
		ProviderSlug: profile.Slug,
		Timezone:     profile.Timezone,
		Service:      svc,
		Weekly:       weekly,
		Override:     override,
		Capacity:     profile.Capacity,
	}, nil
}

func (s *server) toStatus(err error, notFound string) error {
	if errors.Is(err, storage.ErrNotFound) && notFound != "" {
		return status.Error(codes.NotFound, notFound)
	}
	s.logger.Error("availability inputs lookup failed", "err", err)
	return status.Error(codes.Internal, "failed to load availability inputs")
}
