package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/reva/bridge/internal/resource"
)

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"invalid", &InvalidRequestError{Field: "comment", Reason: "empty"}, codes.InvalidArgument},
		{"wrapped invalid", fmt.Errorf("decode: %w", &InvalidRequestError{Field: "comment"}), codes.InvalidArgument},
		{"not found", &resource.LocationNotFoundError{Input: "x"}, codes.NotFound},
		{"rejected", rejected("no"), codes.Canceled},
		{"canceled", context.Canceled, codes.Canceled},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"other", errors.New("disk on fire"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(StatusFromError(tt.err)))
		})
	}
	assert.NoError(t, StatusFromError(nil))
}

func TestSink_FirstEmissionWins(t *testing.T) {
	s := NewSink[int]()
	assert.True(t, s.Complete(1))
	assert.False(t, s.Fail(errors.New("late")))
	assert.False(t, s.Complete(2))

	v, err := s.Wait(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestSink_EmitWithoutListenerDoesNotBlock(t *testing.T) {
	s := NewSink[string]()
	assert.NotPanics(t, func() {
		s.Fail(errors.New("nobody listening"))
		s.Complete("ignored")
	})
}
