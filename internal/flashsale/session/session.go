// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package session carries the calling user's identity through a request.
// The HTTP layer resolves the caller once and stores the id in the request
// context; everything below reads it with CallerID.
package session

import (
	"context"
	"errors"
)

type contextKey struct{}

// ErrNoCaller is returned when a handler needs an identity the request
// never established.
var ErrNoCaller = errors.New("session: no caller in context")

// WithCallerID returns a context carrying the authenticated user id.
func WithCallerID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// CallerID extracts the authenticated user id set by WithCallerID.
func CallerID(ctx context.Context) (int64, error) {
	id, ok := ctx.Value(contextKey{}).(int64)
	if !ok {
		return 0, ErrNoCaller
	}
	return id, nil
}
