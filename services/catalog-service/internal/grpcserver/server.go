//go:build protogen

package grpcserver

import (
	"context"
	"strings"
	"time"

	"github.com/servihub/servihub/libs/db"
	catalogv1 "github.com/servihub/servihub/protos/gen/catalog/v1"
	"github.com/servihub/servihub/services/catalog-service/internal/storage"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type server struct {
	catalogv1.UnimplementedCatalogServiceServer
	pool *db.Pool
	repo *storage.Repository
}

func Register(grpcServer *grpc.Server, pool *db.Pool, repo *storage.Repository) {
	catalogv1.RegisterCatalogServiceServer(grpcServer, &server{pool: pool, repo: repo})
}

func (s *server) GetDaySchedule(ctx context.Context, req *catalogv1.DayScheduleRequest) (*catalogv1.DayScheduleResponse, error) {
	resp := &catalogv1.DayScheduleResponse{
		ProviderId: req.GetProviderId(),
		ServiceId:  req.GetServiceId(),
		Timezone:   "UTC",
	}
	if req.GetProviderId() == "" || req.GetServiceId() == "" || req.GetDate() == "" {
		return resp, nil
	}

	profile, err := s.repo.GetProfile(ctx, req.GetProviderId())
	if err != nil {
		return resp, err
	}
	if strings.TrimSpace(profile.Timezone) != "" {
		resp.Timezone = strings.TrimSpace(profile.Timezone)
	}

	svc, err := s.repo.GetService(ctx, req.GetProviderId(), req.GetServiceId())
	if err != nil {
		return resp, err
	}
	resp.ServiceName = svc.Name
	resp.DurationMinutes = int32(svc.DurationMins)

	loc, err := time.LoadLocation(resp.Timezone)
	if err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "provider timezone %q misconfigured", resp.Timezone)
	}
	day, err := time.ParseInLocation("2006-01-02", req.GetDate(), loc)
	if err != nil {
		return resp, nil
	}

	hours, err := s.repo.GetOpeningHours(ctx, req.GetProviderId(), int(day.Weekday()))
	if err != nil {
		return resp, err
	}
	off, err := s.repo.HasTimeOff(ctx, req.GetProviderId(), req.GetDate())
	if err != nil {
		return resp, err
	}

	if hours.Open && !off {
		resp.Open = true
		resp.OpenMinute = int32(hours.OpenMinute)
		resp.CloseMinute = int32(hours.CloseMinute)
	}
	return resp, nil
}
