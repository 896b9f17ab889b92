package capture

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// GRPCMethod is the Method recorded for gRPC calls.
const GRPCMethod = "GRPC"

// UnaryServerInterceptor records unary calls whose full method name matches
// opts.MethodPatterns. Messages are rendered with protojson. The gRPC status
// is mapped onto the equivalent HTTP status code.
func UnaryServerInterceptor(recorder Recorder, opts Options) grpc.UnaryServerInterceptor {
	c := newCapturer(recorder, opts, opts.MethodPatterns, "CaptureInterceptor")
	marshal := protojson.MarshalOptions{}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		if !c.match(info.FullMethod) {
			return handler(ctx, req)
		}

		start := c.now()
		rec := c.newRecord(start, info.FullMethod, GRPCMethod, peerIP(ctx))
		if opts.LogRequestBody {
			rec.RequestParams = truncate(renderMessage(marshal, req), c.maxContent)
		}
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if opts.LogHeaders {
				rec.RequestHeaders = headersJSON(md)
			}
			if xff := md.Get("x-forwarded-for"); len(xff) > 0 {
				first, _, _ := strings.Cut(xff[0], ",")
				if first = strings.TrimSpace(first); usableIP(first) {
					rec.ClientIP = first
				}
			}
		}

		defer func() {
			if v := recover(); v != nil {
				rec.StatusCode = http.StatusInternalServerError
				rec.ExceptionMsg = truncate(fmt.Sprintf("%v", v), c.maxContent)
				rec.ExecutionTime = c.now().Sub(start).Milliseconds()
				c.store(ctx, rec)
				panic(v)
			}
			rec.StatusCode = HTTPStatusFromCode(status.Code(err))
			if err != nil {
				rec.ExceptionMsg = truncate(status.Convert(err).Message(), c.maxContent)
			} else if opts.LogResponseBody {
				rec.ResponseBody = truncate(renderMessage(marshal, resp), c.maxContent)
			}
			rec.ExecutionTime = c.now().Sub(start).Milliseconds()
			c.store(ctx, rec)
		}()
		return handler(ctx, req)
	}
}

func renderMessage(m protojson.MarshalOptions, v interface{}) string {
	msg, ok := v.(proto.Message)
	if !ok || msg == nil {
		return ""
	}
	b, err := m.Marshal(msg)
	if err != nil {
		return ""
	}
	return string(b)
}

func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// HTTPStatusFromCode maps a gRPC code to the HTTP status a gateway would
// return for it.
func HTTPStatusFromCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.Canceled:
		return 499
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
