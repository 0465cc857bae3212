package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/wfunc/planningpoker/logger"
)

func logUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logger.Log.Debugf("RPC %s %s in %s", info.FullMethod, status.Code(err), time.Since(start))
	return resp, err
}
