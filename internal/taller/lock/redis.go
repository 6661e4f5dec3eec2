package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces lock keys in the shared Redis instance.
const keyPrefix = "taller:lock:"

// Compare-owner scripts so release/refresh never touch a lock that was
// lost and re-acquired by someone else.
var (
	releaseScript = redis.NewScript(`
		local v = redis.call("GET", KEYS[1])
		if v == false then return 1 end
		if string.sub(v, 1, string.len(ARGV[1]) + 1) == ARGV[1] .. "|" then
			return redis.call("DEL", KEYS[1])
		end
		return 0`)

	refreshScript = redis.NewScript(`
		local v = redis.call("GET", KEYS[1])
		if v == false then return 0 end
		if string.sub(v, 1, string.len(ARGV[1]) + 1) == ARGV[1] .. "|" then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return -1`)

	rotateScript = redis.NewScript(`
		local v = redis.call("GET", KEYS[1])
		if v == false then return 0 end
		if string.sub(v, 1, string.len(ARGV[1]) + 1) == ARGV[1] .. "|" then
			redis.call("SET", KEYS[1], ARGV[1] .. "|" .. ARGV[2], "PX", ARGV[3])
			return 1
		end
		return -1`)
)

// Redis implements Service on a Redis instance. The lock value is
// "owner|token"; SET NX EX gives atomic acquire-with-TTL.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis wraps a Redis client as a lock service.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func lockKey(key string) string { return keyPrefix + key }

func encodeValue(owner, token string) string { return owner + "|" + token }

func decodeValue(v string) (owner, token string, ok bool) {
	i := strings.LastIndex(v, "|")
	if i < 0 {
		return "", "", false
	}
	return v[:i], v[i+1:], true
}

// Acquire implements Service.
func (r *Redis) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	set, err := r.client.SetNX(ctx, lockKey(key), encodeValue(owner, token), ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire %q: %w", key, err)
	}
	if set {
		return token, nil
	}

	// Not set: either held by us (refresh) or by someone else.
	current, err := r.client.Get(ctx, lockKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; one more attempt.
		set, err = r.client.SetNX(ctx, lockKey(key), encodeValue(owner, token), ttl).Result()
		if err != nil {
			return "", fmt.Errorf("acquire %q: %w", key, err)
		}
		if set {
			return token, nil
		}
		return "", ErrHeld
	}
	if err != nil {
		return "", fmt.Errorf("acquire %q: %w", key, err)
	}

	currentOwner, _, ok := decodeValue(current)
	if ok && currentOwner == owner {
		// Same owner re-entering: rotate to a fresh token and TTL. The
		// script re-checks ownership so a lock that expired and was
		// re-acquired by someone else after the GET is never clobbered.
		res, err := rotateScript.Run(ctx, r.client, []string{lockKey(key)}, owner, token, ttl.Milliseconds()).Int()
		if err != nil {
			return "", fmt.Errorf("acquire %q: %w", key, err)
		}
		switch res {
		case 1:
			return token, nil
		case 0:
			// Expired between GET and the rotation; one more attempt.
			set, err = r.client.SetNX(ctx, lockKey(key), encodeValue(owner, token), ttl).Result()
			if err != nil {
				return "", fmt.Errorf("acquire %q: %w", key, err)
			}
			if set {
				return token, nil
			}
		}
		if holder, held, err := r.Inspect(ctx, key); err == nil && held {
			return "", fmt.Errorf("%w: %s", ErrHeld, holder.Owner)
		}
		return "", ErrHeld
	}
	return "", fmt.Errorf("%w: %s", ErrHeld, currentOwner)
}

// Refresh implements Service.
func (r *Redis) Refresh(ctx context.Context, key, owner string, ttl time.Duration) error {
	res, err := refreshScript.Run(ctx, r.client, []string{lockKey(key)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh %q: %w", key, err)
	}
	switch res {
	case 0:
		return ErrNotHeld
	case -1:
		return ErrHeld
	}
	return nil
}

// Verify implements Service.
func (r *Redis) Verify(ctx context.Context, key, owner, token string) error {
	current, err := r.client.Get(ctx, lockKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotHeld
	}
	if err != nil {
		return fmt.Errorf("verify %q: %w", key, err)
	}
	currentOwner, currentToken, ok := decodeValue(current)
	if !ok {
		return fmt.Errorf("verify %q: malformed lock value", key)
	}
	if currentOwner != owner {
		return fmt.Errorf("%w: %s", ErrHeld, currentOwner)
	}
	if currentToken != token {
		return ErrNotHeld
	}
	return nil
}

// Release implements Service.
func (r *Redis) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, r.client, []string{lockKey(key)}, owner).Err(); err != nil {
		return fmt.Errorf("release %q: %w", key, err)
	}
	return nil
}

// Inspect implements Service.
func (r *Redis) Inspect(ctx context.Context, key string) (Holder, bool, error) {
	current, err := r.client.Get(ctx, lockKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return Holder{}, false, nil
	}
	if err != nil {
		return Holder{}, false, fmt.Errorf("inspect %q: %w", key, err)
	}
	owner, token, ok := decodeValue(current)
	if !ok {
		return Holder{}, false, fmt.Errorf("inspect %q: malformed lock value", key)
	}
	return Holder{Owner: owner, Token: token}, true, nil
}
