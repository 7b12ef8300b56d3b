package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/leadflow/internal/adapters/lock"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLocal(t *testing.T) {
	Convey("Given a local keyed mutex", t, func() {
		ctx := context.Background()
		l := lock.NewLocal()

		Convey("When many goroutines increment under the same key", func() {
			counter := 0
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					unlock, err := l.Lock(ctx, "lead-1")
					if err != nil {
						return
					}
					defer unlock()
					v := counter
					time.Sleep(time.Microsecond)
					counter = v + 1
				}()
			}
			wg.Wait()

			Convey("Then no update should be lost and the key should be freed", func() {
				So(counter, ShouldEqual, 100)
				So(l.Keys(), ShouldEqual, 0)
			})
		})

		Convey("When a key is held", func() {
			unlock, err := l.Lock(ctx, "lead-1")
			So(err, ShouldBeNil)

			Convey("Then other keys should not block", func() {
				other, err := l.Lock(ctx, "lead-2")
				So(err, ShouldBeNil)
				other()
			})

			Convey("Then a waiter should give up when its context ends", func() {
				waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
				defer cancel()
				_, err := l.Lock(waitCtx, "lead-1")
				So(errors.Is(err, lock.ErrNotAcquired), ShouldBeTrue)
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			})

			Convey("Then a double unlock should be harmless", func() {
				unlock()
				unlock()
				again, err := l.Lock(ctx, "lead-1")
				So(err, ShouldBeNil)
				again()
				So(l.Keys(), ShouldEqual, 0)
			})

			Reset(func() { unlock() })
		})
	})
}
