// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/identity"
)

// RetryStore retries transient failures of the underlying Store with a
// bounded exponential backoff. Taxonomy errors and context errors are
// returned immediately.
type RetryStore struct {
	underlying Store
	maxRetries uint64
	initial    time.Duration
	maxElapsed time.Duration
}

var _ Store = (*RetryStore)(nil)

// NewRetryStore wraps store. maxRetries bounds the number of retries per call.
func NewRetryStore(store Store, maxRetries uint64, initial, maxElapsed time.Duration) *RetryStore {
	return &RetryStore{
		underlying: store,
		maxRetries: maxRetries,
		initial:    initial,
		maxElapsed: maxElapsed,
	}
}

// Read implements Store.
func (s *RetryStore) Read(ctx context.Context, key identity.ActorKey) (*Record, error) {
	return backoff.RetryWithData(func() (*Record, error) {
		record, err := s.underlying.Read(ctx, key)
		return record, permanent(err)
	}, s.policy(ctx))
}

// Write implements Store.
//
// A retried write whose first attempt actually reached the store comes back
// as a version conflict, which the activation treats like any other conflict.
func (s *RetryStore) Write(ctx context.Context, key identity.ActorKey, state []byte, expectedVersion int64) (int64, error) {
	return backoff.RetryWithData(func() (int64, error) {
		version, err := s.underlying.Write(ctx, key, state, expectedVersion)
		return version, permanent(err)
	}, s.policy(ctx))
}

// Delete implements Store.
func (s *RetryStore) Delete(ctx context.Context, key identity.ActorKey, expectedVersion int64) error {
	return backoff.Retry(func() error {
		return permanent(s.underlying.Delete(ctx, key, expectedVersion))
	}, s.policy(ctx))
}

func (s *RetryStore) policy(ctx context.Context) backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = s.initial
	exponential.MaxElapsedTime = s.maxElapsed
	return backoff.WithContext(backoff.WithMaxRetries(exponential, s.maxRetries), ctx)
}

// permanent marks the errors that a retry cannot fix.
func permanent(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gerrors.ErrNotFound),
		errors.Is(err, gerrors.ErrVersionConflict),
		errors.Is(err, gerrors.ErrCorruptedState),
		errors.Is(err, gerrors.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return backoff.Permanent(err)
	default:
		return err
	}
}
