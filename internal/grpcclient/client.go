package grpcclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/aiscore/internal/inference"
	"github.com/example/aiscore/internal/logging"
)

// PredictMethod is the unary RPC served by the scoring sidecar. Request and
// response are google.protobuf.Struct values mirroring the JSON contract.
const PredictMethod = "/inference.Scorer/Predict"

// invoker is satisfied by *grpc.ClientConn.
type invoker interface {
	Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error
}

// DialScorer returns a ready-to-use gRPC client for the scoring service.
func DialScorer(ctx context.Context, addr string, logger *zap.Logger) (inference.Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_scorer", "", err)
		logger.Error("failed to dial scorer", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return &grpcScorer{conn: conn, logger: logger.Named("inference_grpc")}, conn, nil
}

type grpcScorer struct {
	conn   invoker
	logger *zap.Logger
}

func (g *grpcScorer) Predict(ctx context.Context, image []byte) (*inference.Result, error) {
	req, err := structpb.NewStruct(map[string]any{
		"image": base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, err
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, PredictMethod, req, resp); err != nil {
		classified := classify(err)
		g.logger.Warn("scorer call failed", zap.Error(classified))
		return nil, classified
	}

	if len(resp.GetFields()) != 1 {
		return nil, fmt.Errorf("%w: expected only probability_real", inference.ErrInvalidResponse)
	}
	field, ok := resp.GetFields()["probability_real"]
	if !ok {
		return nil, fmt.Errorf("%w: missing probability_real", inference.ErrInvalidResponse)
	}
	number, ok := field.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return nil, fmt.Errorf("%w: probability_real is not a number", inference.ErrInvalidResponse)
	}
	return inference.ValidateProbability(number.NumberValue)
}

func classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", inference.ErrUnavailable, err)
	}
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%w: %s", inference.ErrUnavailable, st.Message())
	case codes.InvalidArgument, codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", inference.ErrRejected, st.Message())
	default:
		return fmt.Errorf("%w: %s: %s", inference.ErrInvalidResponse, st.Code(), st.Message())
	}
}
