package predict

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	gerrors "github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/feature"
	"github.com/c360/gesturegate/metric"
	"github.com/c360/gesturegate/pkg/buffer"
	"github.com/c360/gesturegate/sensor"
	"github.com/c360/gesturegate/window"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLayout = feature.Layout{Version: "test-v1", Names: []string{"count"}}

type countExtractor struct {
	layout feature.Layout
	fail   atomic.Bool
	panic  atomic.Bool
}

func (e *countExtractor) Layout() feature.Layout { return e.layout }

func (e *countExtractor) Extract(w window.Window) ([]float64, error) {
	if e.panic.Load() {
		panic("extractor bug")
	}
	if e.fail.Load() {
		return nil, errors.New("bad window")
	}
	return []float64{float64(len(w.Samples(sensor.Acceleration)))}, nil
}

type fixedClassifier struct {
	layout feature.Layout
	label  string
	calls  atomic.Int64
}

func (c *fixedClassifier) Layout() feature.Layout { return c.layout }

func (c *fixedClassifier) Classify(_ context.Context, vec []float64) (string, float64, error) {
	c.calls.Add(1)
	return c.label, 0.9, nil
}

func accelOnly() window.Config {
	return window.Config{Duration: time.Second, SampleRate: 50, Channels: []sensor.Channel{sensor.Acceleration}}
}

func newTestLoop(t *testing.T, cfg Config, win window.Config) (*Loop, buffer.Buffer[sensor.Sample], *countExtractor, *fixedClassifier) {
	t.Helper()
	samples, err := buffer.NewCircularBuffer[sensor.Sample](64)
	require.NoError(t, err)

	ext := &countExtractor{layout: testLayout}
	cls := &fixedClassifier{layout: testLayout, label: "jump"}

	loop, err := NewLoop(LoopDeps{
		Config:     cfg,
		Window:     win,
		Samples:    samples,
		Extractor:  ext,
		Classifier: cls,
	})
	require.NoError(t, err)
	return loop, samples, ext, cls
}

func accel(ts int64) sensor.Sample {
	return sensor.NewSample(sensor.Acceleration, ts, 0, 0, 1)
}

func runLoop(t *testing.T, loop *Loop) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func nextPrediction(t *testing.T, loop *Loop) Prediction {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p, err := loop.Predictions().ReadWait(ctx)
	require.NoError(t, err)
	return p
}

func TestNewLoop_LayoutContract(t *testing.T) {
	samples, err := buffer.NewCircularBuffer[sensor.Sample](4)
	require.NoError(t, err)

	tests := []struct {
		name  string
		other feature.Layout
	}{
		{"version", feature.Layout{Version: "test-v2", Names: []string{"count"}}},
		{"length", feature.Layout{Version: "test-v1", Names: []string{"count", "extra"}}},
		{"names", feature.Layout{Version: "test-v1", Names: []string{"other"}}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewLoop(LoopDeps{
				Config:     DefaultConfig(),
				Window:     accelOnly(),
				Samples:    samples,
				Extractor:  &countExtractor{layout: testLayout},
				Classifier: &fixedClassifier{layout: test.other},
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, gerrors.ErrLayoutMismatch)
			assert.True(t, gerrors.IsFatal(err))
		})
	}
}

func TestNewLoop_Validation(t *testing.T) {
	_, err := NewLoop(LoopDeps{Config: DefaultConfig(), Window: accelOnly()})
	assert.True(t, gerrors.IsInvalid(err))

	cfg := DefaultConfig()
	cfg.IdleInterval = 0
	_, err = NewLoop(LoopDeps{Config: cfg})
	assert.True(t, gerrors.IsInvalid(err))
}

func TestLoop_PredictsOncePerNewData(t *testing.T) {
	loop, samples, _, cls := newTestLoop(t, DefaultConfig(), accelOnly())
	runLoop(t, loop)

	require.NoError(t, samples.Write(accel(int64(10*time.Millisecond))))
	p := nextPrediction(t, loop)
	assert.Equal(t, "jump", p.Label)
	assert.Equal(t, 0.9, p.Confidence)
	assert.Equal(t, int64(10*time.Millisecond), p.WindowEnd)

	// nothing new arrives: no duplicate predictions of the same window
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, loop.Predictions().Size())
	assert.Equal(t, int64(1), cls.calls.Load())

	require.NoError(t, samples.Write(accel(int64(30*time.Millisecond))))
	p = nextPrediction(t, loop)
	assert.Equal(t, int64(30*time.Millisecond), p.WindowEnd)
}

func TestLoop_WaitsUntilReady(t *testing.T) {
	win := accelOnly()
	win.Channels = []sensor.Channel{sensor.Acceleration, sensor.AngularVelocity}
	loop, samples, _, cls := newTestLoop(t, DefaultConfig(), win)
	runLoop(t, loop)

	require.NoError(t, samples.Write(accel(1)))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int64(0), cls.calls.Load(), "gyro has not reported yet")
	assert.True(t, loop.Health(time.Now()).IsDegraded())

	require.NoError(t, samples.Write(sensor.NewSample(sensor.AngularVelocity, 2, 0, 0, 0)))
	nextPrediction(t, loop)
}

func TestLoop_ErrorsAreSkipped(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	samples, err := buffer.NewCircularBuffer[sensor.Sample](64)
	require.NoError(t, err)
	ext := &countExtractor{layout: testLayout}
	loop, err := NewLoop(LoopDeps{
		Config:          DefaultConfig(),
		Window:          accelOnly(),
		Samples:         samples,
		Extractor:       ext,
		Classifier:      &fixedClassifier{layout: testLayout, label: "idle"},
		MetricsRegistry: registry,
	})
	require.NoError(t, err)

	ctx := context.Background()

	ext.fail.Store(true)
	loop.assembler.Ingest(accel(1))
	loop.step(ctx)

	ext.fail.Store(false)
	ext.panic.Store(true)
	loop.assembler.Ingest(accel(2))
	loop.step(ctx)

	ext.panic.Store(false)
	loop.assembler.Ingest(accel(3))
	loop.step(ctx)

	stats := loop.Stats()
	assert.Equal(t, int64(2), stats.Errors)
	assert.Equal(t, int64(1), stats.Predictions)
	assert.Equal(t, 1.0, testutil.ToFloat64(loop.metrics.errors.WithLabelValues("extract")))
	assert.Equal(t, 1.0, testutil.ToFloat64(loop.metrics.errors.WithLabelValues("panic")))

	p, ok := loop.Predictions().Read()
	require.True(t, ok)
	assert.Equal(t, int64(3), p.WindowEnd)
}

// scriptedClassifier returns its confidences in order, then repeats the last one
type scriptedClassifier struct {
	layout      feature.Layout
	confidences []float64
	calls       int
}

func (c *scriptedClassifier) Layout() feature.Layout { return c.layout }

func (c *scriptedClassifier) Classify(_ context.Context, _ []float64) (string, float64, error) {
	i := min(c.calls, len(c.confidences)-1)
	c.calls++
	return "jump", c.confidences[i], nil
}

func TestLoop_NonFiniteConfidenceIsSkipped(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	samples, err := buffer.NewCircularBuffer[sensor.Sample](64)
	require.NoError(t, err)
	cls := &scriptedClassifier{
		layout:      testLayout,
		confidences: []float64{math.NaN(), math.Inf(1), math.Inf(-1), 0.8},
	}
	loop, err := NewLoop(LoopDeps{
		Config:          DefaultConfig(),
		Window:          accelOnly(),
		Samples:         samples,
		Extractor:       &countExtractor{layout: testLayout},
		Classifier:      cls,
		MetricsRegistry: registry,
	})
	require.NoError(t, err)

	ctx := context.Background()
	for ts := int64(1); ts <= 4; ts++ {
		loop.assembler.Ingest(accel(ts))
		loop.step(ctx)
	}

	stats := loop.Stats()
	assert.Equal(t, int64(3), stats.Errors)
	assert.Equal(t, int64(1), stats.Predictions)
	assert.Equal(t, 3.0, testutil.ToFloat64(loop.metrics.errors.WithLabelValues("classify")))

	p, ok := loop.Predictions().Read()
	require.True(t, ok)
	assert.Equal(t, 0.8, p.Confidence)
	assert.Equal(t, int64(4), p.WindowEnd)
	_, ok = loop.Predictions().Read()
	assert.False(t, ok)
}

func TestLoop_PredictionQueueDropsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 2
	loop, _, _, _ := newTestLoop(t, cfg, accelOnly())

	for i := 1; i <= 5; i++ {
		loop.assembler.Ingest(accel(int64(i)))
		loop.step(context.Background())
	}

	queued := loop.Predictions().Snapshot()
	require.Len(t, queued, 2)
	assert.Equal(t, int64(4), queued[0].WindowEnd)
	assert.Equal(t, int64(5), queued[1].WindowEnd)
	assert.Equal(t, int64(3), loop.Stats().Dropped)
}

func TestLoop_MaxRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRate = 5
	cfg.QueueSize = 64
	loop, samples, _, cls := newTestLoop(t, cfg, accelOnly())
	runLoop(t, loop)

	deadline := time.Now().Add(300 * time.Millisecond)
	for ts := int64(1); time.Now().Before(deadline); ts++ {
		_ = samples.Write(accel(ts))
		time.Sleep(5 * time.Millisecond)
	}

	assert.LessOrEqual(t, cls.calls.Load(), int64(3))
	assert.GreaterOrEqual(t, cls.calls.Load(), int64(1))
}

func TestLoop_StopsWhenSamplesClose(t *testing.T) {
	loop, samples, _, _ := newTestLoop(t, DefaultConfig(), accelOnly())
	_, done := runLoop(t, loop)

	require.NoError(t, samples.Write(accel(1)))
	nextPrediction(t, loop)
	require.NoError(t, samples.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after the sample queue closed")
	}

	_, err := loop.Predictions().ReadWait(context.Background())
	assert.ErrorIs(t, err, gerrors.ErrAlreadyStopped)
}

func TestLoop_CancelStops(t *testing.T) {
	loop, _, _, _ := newTestLoop(t, DefaultConfig(), accelOnly())
	cancel, done := runLoop(t, loop)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}

	assert.True(t, gerrors.IsInvalid(loop.Run(context.Background())), "Run is single-use")
}
