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

// Package social covers the engagement features that ride on KV structures
// rather than the cache: per-post like sets (sorted by like time), follow
// edges mirrored into plain sets for intersection queries, and daily
// check-in bitmaps with streak counting.
package social

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"flashsale/internal/flashsale/kv"
)

const (
	LikeKeyPrefix   = "blog:liked:"
	FollowKeyPrefix = "follows:"
	SignKeyPrefix   = "sign:"
)

// Store is the KV surface the social features need.
type Store interface {
	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRem(ctx context.Context, key, member string) error
	ZScore(ctx context.Context, key, member string) (float64, error)
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SInter(ctx context.Context, keys ...string) ([]string, error)
	SetBit(ctx context.Context, key string, offset int64, value int) error
	BitFieldGetUnsigned(ctx context.Context, key string, bits int, offset int64) (int64, error)
}

// FollowRepo persists follow edges authoritatively; the KV set is a mirror.
type FollowRepo interface {
	InsertFollow(ctx context.Context, userID, followUserID int64) error
	DeleteFollow(ctx context.Context, userID, followUserID int64) error
}

// Service bundles the engagement operations.
type Service struct {
	store   Store
	follows FollowRepo
	now     func() time.Time
}

// New wires the service. The clock feeds like-time scores and check-in days.
func New(store Store, follows FollowRepo, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, follows: follows, now: now}
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

// ToggleLike likes the post if the user has not liked it, unlikes otherwise,
// and reports the resulting state. The like time is the zset score, so
// TopLikers can rank by recency.
func (s *Service) ToggleLike(ctx context.Context, blogID, userID int64) (liked bool, err error) {
	key := LikeKeyPrefix + formatID(blogID)
	member := formatID(userID)
	_, err = s.store.ZScore(ctx, key, member)
	switch {
	case errors.Is(err, kv.ErrNil):
		if err := s.store.ZAdd(ctx, key, member, float64(s.now().UnixMilli())); err != nil {
			return false, err
		}
		return true, nil
	case err != nil:
		return false, err
	default:
		if err := s.store.ZRem(ctx, key, member); err != nil {
			return false, err
		}
		return false, nil
	}
}

// IsLiked reports whether the user currently likes the post.
func (s *Service) IsLiked(ctx context.Context, blogID, userID int64) (bool, error) {
	_, err := s.store.ZScore(ctx, LikeKeyPrefix+formatID(blogID), formatID(userID))
	if errors.Is(err, kv.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// TopLikers returns up to n user ids ranked by most recent like first.
func (s *Service) TopLikers(ctx context.Context, blogID int64, n int64) ([]int64, error) {
	members, err := s.store.ZRevRange(ctx, LikeKeyPrefix+formatID(blogID), 0, n-1)
	if err != nil {
		return nil, err
	}
	return parseIDs(members)
}

// Follow creates or removes a follow edge, writing the relational record
// first and mirroring it into the follower's KV set for intersections.
func (s *Service) Follow(ctx context.Context, userID, targetID int64, follow bool) error {
	key := FollowKeyPrefix + formatID(userID)
	if follow {
		if err := s.follows.InsertFollow(ctx, userID, targetID); err != nil {
			return err
		}
		return s.store.SAdd(ctx, key, formatID(targetID))
	}
	if err := s.follows.DeleteFollow(ctx, userID, targetID); err != nil {
		return err
	}
	return s.store.SRem(ctx, key, formatID(targetID))
}

// IsFollowing consults the KV mirror.
func (s *Service) IsFollowing(ctx context.Context, userID, targetID int64) (bool, error) {
	return s.store.SIsMember(ctx, FollowKeyPrefix+formatID(userID), formatID(targetID))
}

// CommonFollows returns the users both a and b follow.
func (s *Service) CommonFollows(ctx context.Context, a, b int64) ([]int64, error) {
	members, err := s.store.SInter(ctx, FollowKeyPrefix+formatID(a), FollowKeyPrefix+formatID(b))
	if err != nil {
		return nil, err
	}
	return parseIDs(members)
}

// signKey is one bitmap per user per month; bit i is day i+1.
func (s *Service) signKey(userID int64, at time.Time) string {
	return fmt.Sprintf("%s%d:%s", SignKeyPrefix, userID, at.Format("200601"))
}

// CheckIn marks today's bit in the user's monthly bitmap.
func (s *Service) CheckIn(ctx context.Context, userID int64) error {
	now := s.now()
	return s.store.SetBit(ctx, s.signKey(userID, now), int64(now.Day()-1), 1)
}

// CheckInStreak counts consecutive check-in days ending today. It reads the
// month's bits up to today in one BITFIELD and counts trailing set bits.
func (s *Service) CheckInStreak(ctx context.Context, userID int64) (int, error) {
	now := s.now()
	days := now.Day()
	bits, err := s.store.BitFieldGetUnsigned(ctx, s.signKey(userID, now), days, 0)
	if err != nil {
		return 0, err
	}
	streak := 0
	for bits&1 == 1 {
		streak++
		bits >>= 1
	}
	return streak, nil
}

func parseIDs(members []string) ([]int64, error) {
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("social: non-numeric member %q", m)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
