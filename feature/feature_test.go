package feature

import (
	"math"
	"testing"
	"time"

	"github.com/c360/gesturegate/errors"
	"github.com/c360/gesturegate/sensor"
	"github.com/c360/gesturegate/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout_Check(t *testing.T) {
	base := Layout{Version: "stat-v1", Names: []string{"a", "b"}}

	assert.NoError(t, base.Check(Layout{Version: "stat-v1", Names: []string{"a", "b"}}))

	tests := []struct {
		name  string
		other Layout
	}{
		{"version", Layout{Version: "stat-v2", Names: []string{"a", "b"}}},
		{"length", Layout{Version: "stat-v1", Names: []string{"a"}}},
		{"names", Layout{Version: "stat-v1", Names: []string{"b", "a"}}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := base.Check(test.other)
			assert.ErrorIs(t, err, errors.ErrLayoutMismatch)
			assert.True(t, errors.IsFatal(err))
		})
	}

	assert.Equal(t, 1, base.Index("b"))
	assert.Equal(t, -1, base.Index("zzz"))
}

func TestDescribe(t *testing.T) {
	values := []float64{1, 2, 3, 4, 10}
	stats := describe(nil, values)
	require.Len(t, stats, len(axisStats))

	get := func(name string) float64 {
		for i, n := range axisStats {
			if n == name {
				return stats[i]
			}
		}
		t.Fatalf("unknown stat %s", name)
		return 0
	}

	assert.InDelta(t, 4.0, get("mean"), 1e-12)
	assert.InDelta(t, math.Sqrt(12.5), get("std"), 1e-12)
	assert.Equal(t, 1.0, get("min"))
	assert.Equal(t, 10.0, get("max"))
	assert.Equal(t, 9.0, get("range"))
	assert.Equal(t, 3.0, get("median"))
	assert.Greater(t, get("skew"), 0.0, "long right tail")
	assert.InDelta(t, math.Sqrt(130.0/5), get("rms"), 1e-12)
	assert.Equal(t, 0.0, get("peak_count"), "10 is below mean+2σ")
	assert.InDelta(t, 20.0, get("fft_max"), 1e-9, "DC bin dominates: sum of values")
}

func TestDescribe_EdgeCases(t *testing.T) {
	empty := describe(nil, nil)
	assert.Equal(t, make([]float64, len(axisStats)), empty)

	constant := describe(nil, []float64{3, 3, 3, 3})
	for _, v := range constant {
		assert.False(t, math.IsNaN(v))
	}

	single := describe(nil, []float64{5})
	assert.Equal(t, 5.0, single[0])
	assert.Equal(t, 0.0, single[1], "std of one sample is 0")
}

func TestMedianEven(t *testing.T) {
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))
}

func TestFFTMaxFindsOscillation(t *testing.T) {
	n := 32
	values := make([]float64, n)
	for i := range values {
		values[i] = math.Sin(2 * math.Pi * 4 * float64(i) / float64(n))
	}
	// a pure sine of amplitude 1 at bin 4 has magnitude n/2
	assert.InDelta(t, float64(n)/2, fftMax(values), 1e-9)
}

func TestRotate(t *testing.T) {
	v := [3]float64{1, 0, 0}

	assert.Equal(t, v, rotate(v, [4]float64{0, 0, 0, 1}), "identity")
	assert.Equal(t, v, rotate(v, [4]float64{}), "zero quaternion treated as identity")

	// 90° about z maps x to y
	half := math.Sqrt2 / 2
	out := rotate(v, [4]float64{0, 0, half, half})
	assert.InDelta(t, 0, out[0], 1e-12)
	assert.InDelta(t, 1, out[1], 1e-12)
	assert.InDelta(t, 0, out[2], 1e-12)
}

func TestNearest(t *testing.T) {
	orient := []sensor.Sample{
		sensor.NewSample(sensor.Orientation, 10, 0, 0, 0, 1),
		sensor.NewSample(sensor.Orientation, 20, 0, 0, 0, 1),
		sensor.NewSample(sensor.Orientation, 40, 0, 0, 0, 1),
	}
	assert.Equal(t, int64(10), nearest(orient, 0).Timestamp)
	assert.Equal(t, int64(20), nearest(orient, 24).Timestamp)
	assert.Equal(t, int64(40), nearest(orient, 31).Timestamp)
	assert.Equal(t, int64(40), nearest(orient, 99).Timestamp)
}

func assembledWindow(t *testing.T, channels []sensor.Channel, n int) window.Window {
	t.Helper()
	a, err := window.NewAssembler(window.Config{Duration: time.Second, SampleRate: 50, Channels: channels})
	require.NoError(t, err)

	for i := range n {
		ts := int64(i) * int64(20*time.Millisecond)
		for _, ch := range channels {
			switch ch {
			case sensor.Orientation:
				a.Ingest(sensor.NewSample(ch, ts, 0, 0, 0, 1))
			default:
				a.Ingest(sensor.NewSample(ch, ts, math.Sin(float64(i)), float64(i%3), 1))
			}
		}
	}
	return a.Snapshot()
}

func TestStatistical_LayoutAndLength(t *testing.T) {
	channels := []sensor.Channel{sensor.Acceleration, sensor.AngularVelocity, sensor.Orientation}
	s, err := NewStatistical(channels)
	require.NoError(t, err)

	layout := s.Layout()
	assert.Equal(t, StatVersion, layout.Version)
	// 3+3+4 axes × 11 stats + 2 magnitude blocks × 3
	assert.Equal(t, 10*len(axisStats)+6, layout.Len())
	assert.Equal(t, "acceleration_x_mean", layout.Names[0])
	assert.NotEqual(t, -1, layout.Index("angular_velocity_magnitude_max"))
	assert.NotEqual(t, -1, layout.Index("orientation_w_median"))

	vec, err := s.Extract(assembledWindow(t, channels, 40))
	require.NoError(t, err)
	assert.Len(t, vec, layout.Len())
}

func TestStatistical_Deterministic(t *testing.T) {
	channels := []sensor.Channel{sensor.Acceleration, sensor.AngularVelocity}
	s, err := NewStatistical(channels)
	require.NoError(t, err)

	w := assembledWindow(t, channels, 30)
	a, err := s.Extract(w)
	require.NoError(t, err)
	b, err := s.Extract(w)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStatistical_MissingChannelStillExtracts(t *testing.T) {
	channels := []sensor.Channel{sensor.Acceleration, sensor.AngularVelocity}
	s, err := NewStatistical(channels)
	require.NoError(t, err)

	w := assembledWindow(t, []sensor.Channel{sensor.Acceleration}, 10)
	// a window assembled for accel only lacks the gyro key entirely
	_, err = s.Extract(w)
	assert.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	a, err := window.NewAssembler(window.Config{Duration: time.Second, SampleRate: 50, Channels: channels})
	require.NoError(t, err)
	a.Ingest(sensor.NewSample(sensor.Acceleration, 1, 1, 2, 3))
	vec, err := s.Extract(a.Snapshot())
	require.NoError(t, err)

	idx := s.Layout().Index("angular_velocity_x_mean")
	assert.Equal(t, 0.0, vec[idx], "zero-filled channel")
}

func TestStatistical_WorldFrame(t *testing.T) {
	_, err := NewStatistical([]sensor.Channel{sensor.Acceleration}, WithWorldFrame(true))
	assert.True(t, errors.IsInvalid(err))

	channels := []sensor.Channel{sensor.Acceleration, sensor.Orientation}
	s, err := NewStatistical(channels, WithWorldFrame(true))
	require.NoError(t, err)

	vec, err := s.Extract(assembledWindow(t, channels, 20))
	require.NoError(t, err)
	assert.Len(t, vec, s.Layout().Len())

	// identity orientation leaves world == device
	dev := vec[s.Layout().Index("acceleration_x_mean")]
	world := vec[s.Layout().Index("acceleration_world_x_mean")]
	assert.InDelta(t, dev, world, 1e-12)
}

func TestNewStatistical_NoChannels(t *testing.T) {
	_, err := NewStatistical(nil)
	assert.Error(t, err)
}
