package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNewManager(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		reg := prometheus.NewRegistry()

		Convey("When a manager is created with options", func() {
			m := NewManager(
				WithPrometheusRegistry(reg),
				WithNamespace("test"),
				WithSubsystem("engine"),
				WithHistogramBuckets([]float64{1, 10}),
				WithConstLabels(map[string]string{"env": "test"}),
			)

			Convey("Then the options should be applied", func() {
				So(m.namespace, ShouldEqual, "test")
				So(m.subsystem, ShouldEqual, "engine")
				So(m.histogramBuckets, ShouldResemble, []float64{1, 10})
				So(m.constLabels["env"], ShouldEqual, "test")
			})

			Convey("And collectors should be registered on the registry", func() {
				m.eventsDuplicate.Inc()
				families, err := reg.Gather()
				So(err, ShouldBeNil)

				names := map[string]bool{}
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_engine_events_duplicate_total"], ShouldBeTrue)
			})
		})

		Convey("When empty option values are passed", func() {
			m := NewManager(WithPrometheusRegistry(reg), WithNamespace(""), WithHistogramBuckets(nil))

			Convey("Then defaults should be kept", func() {
				So(m.namespace, ShouldEqual, "leadflow")
				So(len(m.histogramBuckets), ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording ingestion metrics", func() {
			before := testutil.ToFloat64(globalManager.eventsProcessed.WithLabelValues("api"))
			RecordEventProcessed("api")
			RecordEventProcessed("api")

			Convey("Then the counter should advance", func() {
				So(testutil.ToFloat64(globalManager.eventsProcessed.WithLabelValues("api")), ShouldEqual, before+2)
			})

			Convey("And the other ingestion recorders should not panic", func() {
				So(func() {
					RecordEventDuplicate()
					RecordEventRejected("validation")
					RecordBatchRow("processed")
					RecordBatchRow("failed")
				}, ShouldNotPanic)
			})
		})

		Convey("When recording a recalculation that changed the score", func() {
			before := testutil.ToFloat64(globalManager.scoreChanges)
			RecordRecalculation(3.5, true)
			RecordRecalculation(1.0, false)

			Convey("Then only one score change should be counted", func() {
				So(testutil.ToFloat64(globalManager.scoreChanges), ShouldEqual, before+1)
			})
		})

		Convey("When updating gauges", func() {
			UpdateTotalLeads(42)
			UpdateQueueSize(7)
			UpdateQueueCapacity(100)
			UpdateWorkerCount(4)
			UpdateNotificationClients(3)
			UpdateUnprocessedEvents(2)

			Convey("Then the gauges should hold the last value", func() {
				So(testutil.ToFloat64(globalManager.totalLeads), ShouldEqual, 42)
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.queueCapacity), ShouldEqual, 100)
				So(testutil.ToFloat64(globalManager.workerCount), ShouldEqual, 4)
				So(testutil.ToFloat64(globalManager.notificationClients), ShouldEqual, 3)
				So(testutil.ToFloat64(globalManager.unprocessedEvents), ShouldEqual, 2)
			})
		})

		Convey("When recording operational metrics", func() {
			So(func() {
				RecordScoreConflict()
				RecordLockWait(0.2)
				RecordNotification("published")
				RecordQueueEnqueue()
				RecordQueueRejected("full")
				RecordWorkerJob("ok", 12)
				RecordHTTPRequest("/api/events", "POST", "201")
				RecordHTTPRequestDuration("/api/events", "POST", "201", 4.2)
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.3)
			}, ShouldNotPanic)
		})

		Convey("When the registry is requested", func() {
			Convey("Then the custom registry should be returned", func() {
				So(GetRegistry(), ShouldEqual, customRegistry)
			})
		})
	})
}
