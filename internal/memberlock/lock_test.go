package memberlock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLocalSerializesSameMember(t *testing.T) {
	l := NewLocal()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), 1)
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxInside)
	}
	if l.size() != 0 {
		t.Fatalf("expected lock table to be empty, got %d", l.size())
	}
}

func TestLocalDifferentMembersDoNotBlock(t *testing.T) {
	l := NewLocal()
	unlock1, err := l.Lock(context.Background(), 1)
	if err != nil {
		t.Fatalf("lock 1: %v", err)
	}
	defer unlock1()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	unlock2, err := l.Lock(ctx, 2)
	if err != nil {
		t.Fatalf("member 2 should not wait on member 1: %v", err)
	}
	unlock2()
}

func TestLocalHonoursContext(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), 3)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, 3); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	unlock()
	unlock() // second call is a no-op

	again, err := l.Lock(context.Background(), 3)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
}

func TestRedisLock(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	l := NewRedis(client, "test:lock:"+time.Now().Format("150405.000000")+":", time.Second)
	unlock, err := l.Lock(context.Background(), 42)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, 42); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected contention, got %v", err)
	}
	unlock()

	unlock2, err := l.Lock(context.Background(), 42)
	if err != nil {
		t.Fatalf("relock after release: %v", err)
	}
	unlock2()
}
