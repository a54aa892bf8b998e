//go:build protogen

package catalog

import (
	"context"
	"time"

	"github.com/servihub/servihub/libs/grpcx"
	catalogv1 "github.com/servihub/servihub/protos/gen/catalog/v1"
	"github.com/servihub/servihub/services/booking-service/internal/slotplan"
)

type grpcSource struct {
	client catalogv1.CatalogServiceClient
}

// NewGRPCSource dials the catalog service's gRPC endpoint. An empty address
// disables the source; callers fall back to the HTTP client.
func NewGRPCSource(addr string) (ScheduleSource, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcSource{client: catalogv1.NewCatalogServiceClient(conn)}, nil
}

func (s *grpcSource) DaySchedule(ctx context.Context, providerID, serviceID, date string) (DaySchedule, error) {
	resp, err := s.client.GetDaySchedule(ctx, &catalogv1.DayScheduleRequest{
		ProviderId: providerID,
		ServiceId:  serviceID,
		Date:       date,
	})
	if err != nil {
		return DaySchedule{}, err
	}
	return DaySchedule{
		Timezone: resp.GetTimezone(),
		Open:     resp.GetOpen(),
		Window: slotplan.OperatingWindow{
			StartMinute: int(resp.GetOpenMinute()),
			EndMinute:   int(resp.GetCloseMinute()),
			SlotMinutes: int(resp.GetDurationMinutes()),
		},
		ServiceName:     resp.GetServiceName(),
		DurationMinutes: int(resp.GetDurationMinutes()),
	}, nil
}
