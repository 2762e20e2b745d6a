package roundlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another run holds the round
var ErrLocked = errors.New("round is locked by another run")

const keyPrefix = "allocation:round-lock:"

// Release gives the lock back
type Release func(ctx context.Context) error

// Locker serializes allocation runs per round
type Locker interface {
	Acquire(ctx context.Context, roundID string) (Release, error)
}

// Options configures the Redis-backed locker
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// New returns a Redis locker when an address is configured, otherwise an in-process one.
// The Redis server is pinged with a short timeout.
func New(ctx context.Context, opts Options) (Locker, func() error, error) {
	if opts.Addr == "" {
		return NewLocal(), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	return NewRedis(client, opts.TTL), client.Close, nil
}

// releaseScript deletes the key only while it still holds our token
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisLocker holds locks as SET NX keys with a TTL
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps an existing client
func NewRedis(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

// Acquire takes the round lock or returns ErrLocked
func (l *RedisLocker) Acquire(ctx context.Context, roundID string) (Release, error) {
	key := keyPrefix + roundID
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock for round %s: %w", roundID, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lock for round %s: %w", roundID, err)
		}
		return nil
	}, nil
}

// LocalLocker guards rounds within a single process
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal returns an empty in-process locker
func NewLocal() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// Acquire takes the round lock or returns ErrLocked
func (l *LocalLocker) Acquire(_ context.Context, roundID string) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[roundID]; ok {
		return nil, ErrLocked
	}
	l.held[roundID] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, roundID)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
