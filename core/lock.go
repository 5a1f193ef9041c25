// Copyright 2025 Jelly Terra <jellyterra@proton.me>
// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0
// that can be found in the LICENSE file and https://mozilla.org/MPL/2.0/.

package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/redis/rueidis"
)

// ErrLocked means another process is writing the same ledger.
var ErrLocked = errors.New("ledger is in use")

// Locker is implemented by backends that can keep a second writer away from
// the document. Only the holder of the lock may save.
type Locker interface {
	Lock(ctx context.Context, holder string) (unlock func(), err error)
}

// Lock creates path.lock exclusively. A lock left behind by a crash has to
// be removed by hand.
func (f *FileBackend) Lock(_ context.Context, holder string) (func(), error) {
	path := f.Path + ".lock"
	lf, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		b, _ := os.ReadFile(path)
		return nil, fmt.Errorf("%w: held by %s, remove %s if it is stale", ErrLocked, strings.TrimSpace(string(b)), path)
	}
	if err != nil {
		return nil, err
	}

	_, err = lf.WriteString(holder + "\n")
	if cerr := lf.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return func() { _ = os.Remove(path) }, nil
}

// RedisLockTTL bounds how long a crashed holder keeps the lock.
const RedisLockTTL = 30 * time.Second

// Lock sets key:lock if absent and keeps extending it until unlocked.
func (r *RedisBackend) Lock(ctx context.Context, holder string) (func(), error) {
	key := r.Key + ":lock"
	err := r.Client.Do(ctx, r.Client.B().Set().Key(key).Value(holder).Nx().Px(RedisLockTTL).Build()).Error()
	if rueidis.IsRedisNil(err) {
		cur, _ := r.Client.Do(ctx, r.Client.B().Get().Key(key).Build()).ToString()
		return nil, fmt.Errorf("%w: held by %s", ErrLocked, cur)
	}
	if err != nil {
		return nil, fmt.Errorf("redis set %s: %w", key, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(RedisLockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = r.Client.Do(context.Background(), r.Client.B().Pexpire().Key(key).Milliseconds(RedisLockTTL.Milliseconds()).Build()).Error()
			}
		}
	}()

	return func() {
		close(stop)
		<-done
		_ = r.Client.Do(context.Background(), r.Client.B().Del().Key(key).Build()).Error()
	}, nil
}

// LockBackend takes the backend's lock if it has one.
func LockBackend(ctx context.Context, b Backend, holder string) (func(), error) {
	l, ok := b.(Locker)
	if !ok {
		return func() {}, nil
	}
	return l.Lock(ctx, holder)
}
