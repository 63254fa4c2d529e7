package grpc

import (
	"context"
	"crypto/subtle"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"adhiba.xyz/iot-climate-service/pkg/common"
)

func methodSet(methods []string) map[string]bool {
	return common.Reducer(methods,
		func(m map[string]bool, method string) map[string]bool {
			m[method] = true
			return m
		},
		map[string]bool{},
	)
}

// CreateRateLimitInterceptor throttles the listed methods by the request's deviceId.
func (i *IOTServer) CreateRateLimitInterceptor(targetMethods []string) grpc.UnaryServerInterceptor {
	targets := methodSet(targetMethods)

	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if targets[info.FullMethod] {
			if r, ok := req.(*structpb.Struct); ok {
				if deviceID, err := intField(r, "deviceId"); err == nil && deviceID != nil {
					if err := i.Iot.ValidateDeviceID(*deviceID); err != nil {
						return nil, status.Error(codes.InvalidArgument, err.Error())
					}
					if !i.CheckDeviceLimiter(*deviceID) {
						return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded")
					}
				}
			}
		}

		return handler(ctx, req)
	}
}

// CreateAPIKeyInterceptor requires the x-api-key metadata on the listed methods.
func (i *IOTServer) CreateAPIKeyInterceptor(targetMethods []string) grpc.UnaryServerInterceptor {
	targets := methodSet(targetMethods)

	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if i.DeviceAPIKey == "" || !targets[info.FullMethod] {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		keys := md.Get(common.HeaderDeviceAPIKey)
		if len(keys) == 0 || subtle.ConstantTimeCompare([]byte(keys[0]), []byte(i.DeviceAPIKey)) != 1 {
			return nil, status.Errorf(codes.Unauthenticated, "invalid api key")
		}

		return handler(ctx, req)
	}
}
