//go:build linux

// Package service exposes the readiness RPC the host uses to detect that
// guest initialization has finished.
package service

import (
	"context"
	"time"

	"github.com/containerd/log"
	"github.com/containerd/ttrpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

const serviceName = "boxlite.guest.v1.Init"

// Ready answers readiness checks from the host. boxinitd only starts
// serving after filesystem preparation has completed, so a successful
// round-trip means the guest is ready for workloads.
type Ready struct {
	since time.Time
}

// NewReady returns a Ready service marking now as initialization time.
func NewReady() *Ready {
	return &Ready{since: time.Now()}
}

// Check acknowledges that guest initialization has completed.
func (r *Ready) Check(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	log.G(ctx).WithField("uptime", time.Since(r.since)).Debug("readiness check")
	return &emptypb.Empty{}, nil
}

// Register registers the readiness service with the ttrpc server.
func Register(srv *ttrpc.Server, r *Ready) {
	srv.RegisterService(serviceName, &ttrpc.ServiceDesc{
		Methods: map[string]ttrpc.Method{
			"Check": func(ctx context.Context, unmarshal func(interface{}) error) (interface{}, error) {
				req := &emptypb.Empty{}
				if err := unmarshal(req); err != nil {
					return nil, err
				}
				return r.Check(ctx, req)
			},
		},
	})
}
