// Package rpc turns inbound CommentService requests into actions and each
// action's resolution into exactly one gRPC response.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/reva/bridge/internal/action"
	"github.com/reva/bridge/internal/broker"
	"github.com/reva/bridge/internal/resource"
	"github.com/reva/bridge/pb"
)

const (
	disconnectReviewer      = "rpc"
	defaultDisconnectReason = "caller disconnected"
)

// Options tunes a Service.
type Options struct {
	Limits Limits

	// RejectOnDisconnect rejects an action whose caller went away before a
	// decision. When false the action stays pending and its outcome is
	// dropped.
	RejectOnDisconnect bool
	DisconnectReason   string

	Logger *slog.Logger
}

// Service implements pb.CommentServiceServer on top of a broker and a
// gateway.
type Service struct {
	pb.UnimplementedCommentServiceServer

	gateway resource.Gateway
	broker  *broker.Broker
	opts    Options
	logger  *slog.Logger
}

func NewService(gateway resource.Gateway, b *broker.Broker, opts Options) *Service {
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	if opts.DisconnectReason == "" {
		opts.DisconnectReason = defaultDisconnectReason
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gateway: gateway, broker: b, opts: opts, logger: logger}
}

// SubmitSetComment validates req, resolves its location and hands a
// Comment action to the broker. It returns as soon as the action is
// pending; the response arrives later through sink. On error no action is
// created and sink is left untouched.
func (s *Service) SubmitSetComment(ctx context.Context, req *pb.SetCommentRequest, sink *Sink[*pb.SetCommentResponse]) (string, error) {
	if err := validateSetComment(req, s.opts.Limits); err != nil {
		return "", err
	}
	loc, err := s.gateway.ResolveLocation(ctx, req.GetSymbolOrAddress())
	if err != nil {
		return "", err
	}

	comment := req.GetComment()
	txDescription := "Set Comment at " + loc.String()
	applyCtx := context.WithoutCancel(ctx)

	a, err := action.NewBuilder().
		Gateway(s.gateway).
		Location(loc).
		Name("Comment").
		Description("Comment: " + comment).
		OnAccepted(func() error {
			err := recovered(func() error {
				return s.gateway.RunInTransaction(applyCtx, txDescription, func(tx resource.Tx) error {
					return tx.SetComment(loc, comment)
				})
			})
			if err != nil {
				s.deliver(sink.Fail(status.Errorf(codes.Internal, "%s: %v", txDescription, err)), "SetComment")
				return err
			}
			s.deliver(sink.Complete(&pb.SetCommentResponse{}), "SetComment")
			return nil
		}).
		OnRejected(func(reason string) {
			s.deliver(sink.Fail(rejected(reason)), "SetComment")
		}).
		Build()
	if err != nil {
		return "", fmt.Errorf("build comment action: %w", err)
	}
	return s.broker.Submit(a), nil
}

// SubmitRenameSymbol is the RenameSymbol counterpart of SubmitSetComment.
func (s *Service) SubmitRenameSymbol(ctx context.Context, req *pb.RenameSymbolRequest, sink *Sink[*pb.RenameSymbolResponse]) (string, error) {
	if err := validateRenameSymbol(req, s.opts.Limits); err != nil {
		return "", err
	}
	loc, err := s.gateway.ResolveLocation(ctx, req.GetSymbolOrAddress())
	if err != nil {
		return "", err
	}

	oldName := loc.Symbol
	if oldName == "" {
		oldName = loc.String()
	}
	newName := req.GetNewName()
	txDescription := "Rename Symbol at " + loc.String()
	applyCtx := context.WithoutCancel(ctx)

	a, err := action.NewBuilder().
		Gateway(s.gateway).
		Location(loc).
		Name("Rename").
		Description(fmt.Sprintf("Rename %s to %s", oldName, newName)).
		OnAccepted(func() error {
			err := recovered(func() error {
				_, err := resource.Run(applyCtx, s.gateway, txDescription, func(tx resource.Tx) (struct{}, error) {
					return struct{}{}, tx.RenameSymbol(loc, newName)
				})
				return err
			})
			if err != nil {
				s.deliver(sink.Fail(status.Errorf(codes.Internal, "%s: %v", txDescription, err)), "RenameSymbol")
				return err
			}
			s.deliver(sink.Complete(&pb.RenameSymbolResponse{}), "RenameSymbol")
			return nil
		}).
		OnRejected(func(reason string) {
			s.deliver(sink.Fail(rejected(reason)), "RenameSymbol")
		}).
		Build()
	if err != nil {
		return "", fmt.Errorf("build rename action: %w", err)
	}
	return s.broker.Submit(a), nil
}

// SetComment is the unary form: submit, then wait for the reviewer.
func (s *Service) SetComment(ctx context.Context, req *pb.SetCommentRequest) (*pb.SetCommentResponse, error) {
	sink := NewSink[*pb.SetCommentResponse]()
	id, err := s.SubmitSetComment(ctx, req, sink)
	if err != nil {
		return nil, StatusFromError(err)
	}
	return await(ctx, s, id, sink)
}

func (s *Service) RenameSymbol(ctx context.Context, req *pb.RenameSymbolRequest) (*pb.RenameSymbolResponse, error) {
	sink := NewSink[*pb.RenameSymbolResponse]()
	id, err := s.SubmitRenameSymbol(ctx, req, sink)
	if err != nil {
		return nil, StatusFromError(err)
	}
	return await(ctx, s, id, sink)
}

func await[T any](ctx context.Context, s *Service, id string, sink *Sink[T]) (T, error) {
	v, err := sink.Wait(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		s.abandon(id)
		return v, status.FromContextError(ctxErr).Err()
	}
	return v, err
}

// abandon applies the disconnect policy to an action whose caller is gone.
func (s *Service) abandon(id string) {
	if !s.opts.RejectOnDisconnect {
		s.logger.Info("caller disconnected, action left pending", "action_id", id)
		return
	}

	ctx := broker.WithReviewer(context.Background(), disconnectReviewer)
	err := s.broker.Reject(ctx, id, s.opts.DisconnectReason)
	var notFound *broker.NotFoundError
	switch {
	case err == nil:
		s.logger.Info("caller disconnected, action rejected", "action_id", id)
	case errors.As(err, &notFound):
		// Resolved concurrently with the disconnect.
	default:
		s.logger.Warn("failed to reject abandoned action", "action_id", id, "error", err)
	}
}

// recovered runs a mutation and turns a panic from the host into an error.
// The gateway has already rolled the transaction back by then.
func recovered(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mutation panicked: %v", r)
		}
	}()
	return fn()
}

func (s *Service) deliver(sent bool, method string) {
	if !sent {
		s.logger.Warn("response already emitted, dropping outcome", "method", method)
	}
}

var _ pb.CommentServiceServer = (*Service)(nil)
