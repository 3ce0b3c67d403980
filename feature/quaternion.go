package feature

import (
	"math"
	"sort"

	"github.com/c360/gesturegate/sensor"
)

// rotate applies the unit quaternion q = (x, y, z, w) to v.
// A zero quaternion is treated as the identity.
func rotate(v [3]float64, q [4]float64) [3]float64 {
	norm := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
	if norm < 1e-9 {
		return v
	}
	qx, qy, qz, qw := q[0]/norm, q[1]/norm, q[2]/norm, q[3]/norm

	// t = 2 * (q_vec × v); v' = v + w*t + q_vec × t
	tx := 2 * (qy*v[2] - qz*v[1])
	ty := 2 * (qz*v[0] - qx*v[2])
	tz := 2 * (qx*v[1] - qy*v[0])

	return [3]float64{
		v[0] + qw*tx + (qy*tz - qz*ty),
		v[1] + qw*ty + (qz*tx - qx*tz),
		v[2] + qw*tz + (qx*ty - qy*tx),
	}
}

// nearest returns the orientation sample closest in time to ts. orientations is sorted.
func nearest(orientations []sensor.Sample, ts int64) sensor.Sample {
	i := sort.Search(len(orientations), func(i int) bool {
		return orientations[i].Timestamp >= ts
	})
	switch {
	case i == 0:
		return orientations[0]
	case i == len(orientations):
		return orientations[len(orientations)-1]
	}
	before, after := orientations[i-1], orientations[i]
	if ts-before.Timestamp <= after.Timestamp-ts {
		return before
	}
	return after
}

// worldFrame rotates each acceleration sample by the nearest orientation.
func worldFrame(accel, orientations []sensor.Sample) [][3]float64 {
	out := make([][3]float64, len(accel))
	for i, s := range accel {
		v := [3]float64{s.Value(0), s.Value(1), s.Value(2)}
		if len(orientations) == 0 {
			out[i] = v
			continue
		}
		o := nearest(orientations, s.Timestamp)
		out[i] = rotate(v, [4]float64{o.Value(0), o.Value(1), o.Value(2), o.Value(3)})
	}
	return out
}
