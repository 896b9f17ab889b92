package capture

import (
	"context"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func grpcContext() context.Context {
	return peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP("10.0.0.9"), Port: 5000},
	})
}

func TestUnaryServerInterceptor(t *testing.T) {
	rec := &fakeRecorder{}
	opts := testOptions()
	opts.MethodPatterns = []string{"/orders.OrderService/*"}
	interceptor := UnaryServerInterceptor(rec, opts)

	info := &grpc.UnaryServerInfo{FullMethod: "/orders.OrderService/Get"}
	resp, err := interceptor(grpcContext(), wrapperspb.String("order-7"), info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return wrapperspb.String("shipped"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "shipped", resp.(*wrapperspb.StringValue).GetValue())

	recs := rec.records()
	require.Len(t, recs, 1)
	got := recs[0]
	assert.Equal(t, "/orders.OrderService/Get", got.Path)
	assert.Equal(t, GRPCMethod, got.Method)
	assert.Equal(t, "10.0.0.9", got.ClientIP)
	assert.Equal(t, `"order-7"`, got.RequestParams)
	assert.Equal(t, `"shipped"`, got.ResponseBody)
	assert.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, int64(5), got.ExecutionTime)
}

func TestUnaryServerInterceptor_Error(t *testing.T) {
	rec := &fakeRecorder{}
	opts := testOptions()
	opts.LogHeaders = true
	interceptor := UnaryServerInterceptor(rec, opts)

	ctx := metadata.NewIncomingContext(grpcContext(), metadata.Pairs("x-forwarded-for", "7.7.7.7, 10.0.0.1"))
	info := &grpc.UnaryServerInfo{FullMethod: "/orders.OrderService/Get"}
	_, err := interceptor(ctx, wrapperspb.String("order-8"), info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "no such order")
	})
	require.Equal(t, codes.NotFound, status.Code(err))

	recs := rec.records()
	require.Len(t, recs, 1)
	assert.Equal(t, http.StatusNotFound, recs[0].StatusCode)
	assert.Equal(t, "no such order", recs[0].ExceptionMsg)
	assert.Equal(t, "7.7.7.7", recs[0].ClientIP)
	assert.Equal(t, `{"x-forwarded-for":"7.7.7.7, 10.0.0.1"}`, recs[0].RequestHeaders)
	assert.Empty(t, recs[0].ResponseBody)
}

func TestUnaryServerInterceptor_SkipsUnmatchedMethods(t *testing.T) {
	rec := &fakeRecorder{}
	opts := testOptions()
	opts.MethodPatterns = []string{"/orders.OrderService/*"}
	interceptor := UnaryServerInterceptor(rec, opts)

	_, err := interceptor(grpcContext(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"},
		func(ctx context.Context, req interface{}) (interface{}, error) { return nil, nil })
	require.NoError(t, err)
	assert.Empty(t, rec.records())
}

func TestUnaryServerInterceptor_Panic(t *testing.T) {
	rec := &fakeRecorder{}
	interceptor := UnaryServerInterceptor(rec, testOptions())

	assert.Panics(t, func() {
		_, _ = interceptor(grpcContext(), nil, &grpc.UnaryServerInfo{FullMethod: "/orders.OrderService/Get"},
			func(ctx context.Context, req interface{}) (interface{}, error) { panic("nil order") })
	})
	recs := rec.records()
	require.Len(t, recs, 1)
	assert.Equal(t, http.StatusInternalServerError, recs[0].StatusCode)
	assert.Equal(t, "nil order", recs[0].ExceptionMsg)
}

func TestHTTPStatusFromCode(t *testing.T) {
	testCases := map[codes.Code]int{
		codes.OK:                200,
		codes.Canceled:          499,
		codes.InvalidArgument:   400,
		codes.Unauthenticated:   401,
		codes.PermissionDenied:  403,
		codes.NotFound:          404,
		codes.AlreadyExists:     409,
		codes.ResourceExhausted: 429,
		codes.Unimplemented:     501,
		codes.Unavailable:       503,
		codes.DeadlineExceeded:  504,
		codes.Internal:          500,
		codes.DataLoss:          500,
	}
	for code, want := range testCases {
		assert.Equal(t, want, HTTPStatusFromCode(code), code.String())
	}
}
