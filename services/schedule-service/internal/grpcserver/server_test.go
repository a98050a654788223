package grpcserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/md-rashed-zaman/bookslots/libs/calendar"
	"github.com/md-rashed-zaman/bookslots/libs/grpcx"
	"github.com/md-rashed-zaman/bookslots/libs/schedulerpc"
	"github.com/md-rashed-zaman/bookslots/services/schedule-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeStore struct {
	weeklyDay  calendar.DayOfWeek
	failWeekly bool
}

func (f *fakeStore) ResolveProvider(_ context.Context, ref string) (storage.Profile, error) {
	if ref != "prov-1" && ref != "dr-smith" {
		return storage.Profile{}, storage.ErrNotFound
	}
	return storage.Profile{
		ProviderID: "prov-1",
		Slug:       "dr-smith",
		Timezone:   "America/New_York",
		Capacity:   calendar.CapacityPolicy{Mode: calendar.CapacityMaxPerDay, MaxPerDay: 4},
	}, nil
}

func (f *fakeStore) GetService(_ context.Context, providerID, serviceID string) (calendar.Service, error) {
	if serviceID != "svc-1" {
		return calendar.Service{}, storage.ErrNotFound
	}
	return calendar.Service{ID: serviceID, ProviderID: providerID, Name: "Checkup", DurationMinutes: 30, IsActive: true}, nil
}

func (f *fakeStore) WeeklyEntries(_ context.Context, _ storage.Reader, _ string, day calendar.DayOfWeek) ([]calendar.WeeklyEntry, error) {
	f.weeklyDay = day
	if f.failWeekly {
		return nil, errors.New("connection reset")
	}
	return []calendar.WeeklyEntry{{Day: day, Start: calendar.MustClock("09:00"), End: calendar.MustClock("12:00")}}, nil
}

func (f *fakeStore) OverrideForDate(_ context.Context, _ string, date calendar.Date) (*calendar.DateOverride, error) {
	if date.Day == 25 {
		return &calendar.DateOverride{ID: "ov-1", Date: date, IsUnavailable: true}, nil
	}
	return nil, nil
}

func startServer(t *testing.T, store Store) *schedulerpc.Client {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpcx.NewServer()
	Register(srv, store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := grpcx.Dial(ctx, lis.Addr().String(), grpcx.DialOptions{Timeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return schedulerpc.NewClient(conn)
}

func TestGetAvailabilityInputsBySlug(t *testing.T) {
	store := &fakeStore{}
	client := startServer(t, store)

	resp, err := client.GetAvailabilityInputs(context.Background(), &schedulerpc.InputsRequest{
		ProviderRef: "dr-smith",
		ServiceID:   "svc-1",
		Date:        calendar.MustDate("2026-12-25"),
	})
	require.NoError(t, err)
	assert.Equal(t, "prov-1", resp.ProviderID)
	assert.Equal(t, "America/New_York", resp.Timezone)
	assert.Equal(t, 30, resp.Service.DurationMinutes)
	assert.Equal(t, calendar.Friday, store.weeklyDay)
	require.Len(t, resp.Weekly, 1)
	require.NotNil(t, resp.Override)
	assert.True(t, resp.Override.IsUnavailable)
	assert.Equal(t, 4, resp.Capacity.MaxPerDay)
}

func TestGetAvailabilityInputsErrors(t *testing.T) {
	client := startServer(t, &fakeStore{})
	date := calendar.MustDate("2026-05-04")

	cases := []struct {
		name string
		req  *schedulerpc.InputsRequest
		code codes.Code
	}{
		{"unknown provider", &schedulerpc.InputsRequest{ProviderRef: "nobody", ServiceID: "svc-1", Date: date}, codes.NotFound},
		{"unknown service", &schedulerpc.InputsRequest{ProviderRef: "prov-1", ServiceID: "svc-9", Date: date}, codes.NotFound},
		{"missing date", &schedulerpc.InputsRequest{ProviderRef: "prov-1", ServiceID: "svc-1"}, codes.InvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.GetAvailabilityInputs(context.Background(), tc.req)
			assert.Equal(t, tc.code, status.Code(err))
		})
	}

	failing := startServer(t, &fakeStore{failWeekly: true})
	_, err := failing.GetAvailabilityInputs(context.Background(), &schedulerpc.InputsRequest{ProviderRef: "prov-1", ServiceID: "svc-1", Date: date})
	assert.Equal(t, codes.Internal, status.Code(err))
}
