package server

import (
	"context"
	"errors"
	"slices"

	"github.com/matheus3301/deskline/internal/engine"
	"github.com/matheus3301/deskline/internal/metrics"
	"github.com/matheus3301/deskline/internal/model"
	"github.com/matheus3301/deskline/internal/realtime"
	"github.com/matheus3301/deskline/internal/store"
	"github.com/matheus3301/deskline/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const streamBuffer = 256

// DataService implements the DataService gRPC service.
type DataService struct {
	db          *store.DB
	engine      *engine.Engine
	subscriber  realtime.Subscriber
	broadcaster realtime.Broadcaster
	logger      *zap.Logger
}

// NewDataService creates the data service over the store, the write engine
// and the realtime backends.
func NewDataService(db *store.DB, e *engine.Engine, sub realtime.Subscriber, bc realtime.Broadcaster, logger *zap.Logger) *DataService {
	return &DataService{
		db:          db,
		engine:      e,
		subscriber:  sub,
		broadcaster: bc,
		logger:      logger,
	}
}

func (s *DataService) Select(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	q, err := wire.DecodeQuery(in)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "select: %v", err)
	}
	rows, err := s.db.Select(ctx, q)
	if err != nil {
		return nil, toStatus("select", err)
	}
	out, err := wire.EncodeRows(rows)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "select: %v", err)
	}
	return out, nil
}

func (s *DataService) Insert(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	w, err := wire.DecodeWrite(in)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "insert: %v", err)
	}
	if w.Row == nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, "insert: row is required")
	}
	row, err := s.engine.Insert(ctx, w.Collection, w.OrgID, w.Row)
	if err != nil {
		return nil, toStatus("insert", err)
	}
	return rowResponse("insert", row)
}

func (s *DataService) Update(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	w, err := wire.DecodeWrite(in)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "update: %v", err)
	}
	if w.ID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "update: id is required")
	}
	row, err := s.engine.Update(ctx, w.Collection, w.OrgID, w.ID, w.Row)
	if err != nil {
		return nil, toStatus("update", err)
	}
	return rowResponse("update", row)
}

func (s *DataService) Delete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	w, err := wire.DecodeWrite(in)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "delete: %v", err)
	}
	if w.ID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "delete: id is required")
	}
	row, err := s.engine.Delete(ctx, w.Collection, w.OrgID, w.ID)
	if err != nil {
		return nil, toStatus("delete", err)
	}
	return rowResponse("delete", row)
}

func (s *DataService) Broadcast(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	msg, err := wire.DecodeBroadcast(in)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "broadcast: %v", err)
	}
	if err := s.broadcaster.Publish(ctx, msg.Channel, msg.Event, msg.Payload); err != nil {
		return nil, toStatus("broadcast", err)
	}
	return &structpb.Struct{}, nil
}

// Watch streams row changes until the client goes away. The first frame
// confirms the subscription is live.
func (s *DataService) Watch(in *structpb.Struct, stream grpc.ServerStream) error {
	req, err := wire.DecodeWatch(in)
	if err != nil {
		return grpcstatus.Errorf(codes.InvalidArgument, "watch: %v", err)
	}
	if !slices.Contains(store.Collections(), req.Collection) {
		return toStatus("watch", store.ErrUnknownCollection)
	}
	if req.Filter.OrgID == "" {
		return grpcstatus.Error(codes.InvalidArgument, "watch: org_id is required")
	}

	ctx := stream.Context()
	events := make(chan model.Change, streamBuffer)
	unsub, err := s.subscriber.Subscribe(ctx, req.Collection, req.Filter, func(c model.Change) {
		select {
		case events <- c:
		default:
			metrics.BusEventsDropped.Inc()
		}
	})
	if err != nil {
		return toStatus("watch", err)
	}
	defer unsub()

	metrics.ActiveSubscriptions.WithLabelValues("watch").Inc()
	defer metrics.ActiveSubscriptions.WithLabelValues("watch").Dec()

	s.logger.Debug("watch opened",
		zap.String("collection", req.Collection),
		zap.String("org_id", req.Filter.OrgID),
		zap.String("column", req.Filter.Column),
	)
	if err := stream.SendMsg(wire.SubscribedFrame()); err != nil {
		return err
	}

	for {
		select {
		case c := <-events:
			frame, err := wire.EncodeChange(c)
			if err != nil {
				s.logger.Warn("dropping unencodable change", zap.Error(err))
				continue
			}
			if err := stream.SendMsg(frame); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Listen streams broadcast payloads on one channel until the client goes away.
func (s *DataService) Listen(in *structpb.Struct, stream grpc.ServerStream) error {
	channel := wire.DecodeListen(in)
	ctx := stream.Context()
	msgs := make(chan realtime.Message, streamBuffer)
	ch, err := s.broadcaster.Join(ctx, channel, func(m realtime.Message) {
		select {
		case msgs <- m:
		default:
			metrics.BusEventsDropped.Inc()
		}
	})
	if err != nil {
		return toStatus("listen", err)
	}
	defer ch.Leave()

	metrics.ActiveSubscriptions.WithLabelValues("listen").Inc()
	defer metrics.ActiveSubscriptions.WithLabelValues("listen").Dec()

	if err := stream.SendMsg(wire.SubscribedFrame()); err != nil {
		return err
	}

	for {
		select {
		case m := <-msgs:
			frame, err := wire.EncodeBroadcast(m)
			if err != nil {
				s.logger.Warn("dropping unencodable broadcast", zap.Error(err))
				continue
			}
			if err := stream.SendMsg(frame); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func rowResponse(op string, row model.Row) (*structpb.Struct, error) {
	out, err := wire.EncodeRowResponse(row)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "%s: %v", op, err)
	}
	return out, nil
}

// toStatus maps store and realtime errors onto gRPC status codes.
func toStatus(op string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, store.ErrUnknownCollection),
		errors.Is(err, store.ErrInvalidColumn),
		errors.Is(err, store.ErrInvalidValue),
		errors.Is(err, store.ErrScope),
		errors.Is(err, realtime.ErrInvalidChannel):
		code = codes.InvalidArgument
	case errors.Is(err, store.ErrConstraint):
		code = codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}
