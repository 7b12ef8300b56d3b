package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/okian/leadflow/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDeduper(t *testing.T) {
	Convey("Given a bounded deduper", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))

		Convey("When an id is recorded", func() {
			first := d.SeenAndRecord(ctx, "evt-1")
			second := d.SeenAndRecord(ctx, "evt-1")

			Convey("Then only the first call should report it as new", func() {
				So(first, ShouldBeFalse)
				So(second, ShouldBeTrue)
				So(d.Seen(ctx, "evt-1"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When Seen is called for an unknown id", func() {
			Convey("Then it should not record it", func() {
				So(d.Seen(ctx, "evt-x"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When the capacity is exceeded", func() {
			for i := 1; i <= 4; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("evt-%d", i))
			}

			Convey("Then the oldest id should be evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.Seen(ctx, "evt-1"), ShouldBeFalse)
				So(d.Seen(ctx, "evt-2"), ShouldBeTrue)
				So(d.Seen(ctx, "evt-4"), ShouldBeTrue)
			})
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))

		for i := 0; i < 1000; i++ {
			d.SeenAndRecord(ctx, fmt.Sprintf("evt-%d", i))
		}

		Convey("Then nothing should be evicted", func() {
			So(d.Size(), ShouldEqual, 1000)
			So(d.Seen(ctx, "evt-0"), ShouldBeTrue)
		})
	})

	Convey("Given concurrent recorders of the same id", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper()

		var fresh atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !d.SeenAndRecord(ctx, "evt-race") {
					fresh.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one should win", func() {
			So(fresh.Load(), ShouldEqual, 1)
		})
	})
}
