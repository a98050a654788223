package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/bookslots/libs/calendar"
	"github.com/md-rashed-zaman/bookslots/libs/grpcx"
	"github.com/md-rashed-zaman/bookslots/libs/schedulerpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/status"
)

var (
	ErrNotFound       = errors.New("provider or service not found")
	ErrInvalidRequest = errors.New("invalid schedule request")
	ErrUnavailable    = errors.New("schedule service unavailable")
)

// Provider returns the schedule-side inputs for one provider-local date.
type Provider interface {
	GetInputs(ctx context.Context, providerRef, serviceID string, date calendar.Date) (*schedulerpc.InputsResponse, error)
}

type GRPCProvider struct {
	conn    *grpc.ClientConn
	client  *schedulerpc.Client
	timeout time.Duration
}

func NewProvider(ctx context.Context, addr string) (*GRPCProvider, error) {
	if addr == "" {
		return nil, errors.New("schedule service address is required")
	}
	conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &GRPCProvider{conn: conn, client: schedulerpc.NewClient(conn), timeout: 3 * time.Second}, nil
}

func NewProviderWithClient(client *schedulerpc.Client) *GRPCProvider {
	return &GRPCProvider{client: client, timeout: 3 * time.Second}
}

func (p *GRPCProvider) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

func (p *GRPCProvider) ReadyCheck(ctx context.Context) error {
	if p.conn == nil {
		return nil
	}
	switch st := p.conn.GetState(); st {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return fmt.Errorf("schedule grpc connection %s", st)
	}
	return nil
}

func (p *GRPCProvider) GetInputs(ctx context.Context, providerRef, serviceID string, date calendar.Date) (*schedulerpc.InputsResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.GetAvailabilityInputs(ctx, &schedulerpc.InputsRequest{
		ProviderRef: providerRef,
		ServiceID:   serviceID,
		Date:        date,
	})
	if err != nil {
		return nil, mapError(err)
	}
	return resp, nil
}

func mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, st.Message())
	default:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	}
}
