package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry and custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.framesWritten.WithLabelValues("upper").Inc()

			Convey("Then metric names carry the namespace and subsystem", func() {
				So(manager, ShouldNotBeNil)
				n, err := testutil.GatherAndCount(registry, "test_unit_frames_written_total")
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
			})
		})

		Convey("When creating twice on the same registry", func() {
			registry := prometheus.NewRegistry()
			NewManager(WithPrometheusRegistry(registry))

			Convey("Then registration panics on duplicates", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestRecordFunctions(t *testing.T) {
	Convey("Given the global metrics", t, func() {
		Convey("When frames and detector calls are recorded", func() {
			before := testutil.ToFloat64(globalManager.framesWritten.WithLabelValues("metrics-test"))
			RecordFrameWritten("metrics-test", 12*time.Millisecond)
			RecordFrameWritten("metrics-test", 8*time.Millisecond)
			RecordDetectorCall("metrics-test-detector", "ok", time.Millisecond)
			RecordDetectorFailure("metrics-test-detector", "detector_timeout")
			RecordJointUnresolved("metrics-test-detector", "depth_invalid")

			Convey("Then the counters move", func() {
				So(testutil.ToFloat64(globalManager.framesWritten.WithLabelValues("metrics-test")), ShouldEqual, before+2)
				So(testutil.ToFloat64(globalManager.detectorFailures.WithLabelValues("metrics-test-detector", "detector_timeout")), ShouldEqual, 1)
				So(testutil.ToFloat64(globalManager.jointsUnresolved.WithLabelValues("metrics-test-detector", "depth_invalid")), ShouldEqual, 1)
			})
		})

		Convey("When a view moves through statuses", func() {
			UpdateViewStatus("", "metrics-pending")
			UpdateViewStatus("metrics-pending", "metrics-running")
			UpdateViewStatus("metrics-running", "metrics-running")

			Convey("Then only the current status counts it", func() {
				So(testutil.ToFloat64(globalManager.viewStatus.WithLabelValues("metrics-pending")), ShouldEqual, 0)
				So(testutil.ToFloat64(globalManager.viewStatus.WithLabelValues("metrics-running")), ShouldEqual, 1)
			})
		})

		Convey("When gauges are set", func() {
			UpdateAcceleratorInUse(2)
			UpdateQueueSize(7)

			Convey("Then they hold the last value", func() {
				So(testutil.ToFloat64(globalManager.acceleratorInUse), ShouldEqual, 2)
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 7)
			})
		})

		Convey("When the remaining helpers are called", func() {
			So(func() {
				RecordFrameError("detector_error")
				RecordJointProjected("d")
				RecordAlignmentInvalid("v", 3)
				RecordCalibrationResolved("embedded")
				UpdateAcceleratorSlots(4)
				RecordJobSubmitted()
				RecordJobRejected()
				RecordJobFinished("done", time.Second)
				RecordStoreLatency("commit_frame", time.Millisecond)
				RecordStoreError("commit_frame")
				RecordErrorByComponent("orchestrator", "calibration")
				UpdateQueueCapacity(16)
				UpdateQueueUtilization(0.5)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				UpdateWorkerCount(2)
				UpdateWorkerActiveCount(1)
				RecordWorkerProcessingLatency(time.Second)
				RecordWorkerError()
				RecordHTTPRequest("/healthz", "GET", "200")
				RecordHTTPRequestDuration("/healthz", "GET", "200", 1.5)
			}, ShouldNotPanic)
		})
	})
}

func TestGetRegistry(t *testing.T) {
	Convey("Given the custom registry", t, func() {
		RecordJobSubmitted()
		families, err := GetRegistry().Gather()

		Convey("Then it exposes posefuse metrics only", func() {
			So(err, ShouldBeNil)
			So(families, ShouldNotBeEmpty)
			for _, f := range families {
				So(strings.HasPrefix(f.GetName(), "posefuse_pipeline_"), ShouldBeTrue)
			}
		})
	})
}
