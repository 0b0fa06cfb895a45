// Copyright 2025 Crucible Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisWindowScript trims expired members, counts the remainder, and records
// the new event in one round trip so concurrent callers cannot overshoot.
var redisWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  return 0
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisWindow is a RateWindow backed by a redis sorted set per key, for
// deployments that need the ceiling to hold across instances.
type RedisWindow struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisWindow creates a redis-backed sliding window limiter.
func NewRedisWindow(client *redis.Client, limit int, window time.Duration) *RedisWindow {
	return &RedisWindow{
		client: client,
		limit:  limit,
		window: window,
		prefix: "crucible:ratelimit:",
	}
}

func (w *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	member := fmt.Sprintf("%d-%d", now.UnixNano(), now.Nanosecond())
	res, err := redisWindowScript.Run(ctx, w.client,
		[]string{w.prefix + key},
		now.UnixMilli(), w.window.Milliseconds(), w.limit, member,
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
