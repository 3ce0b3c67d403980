// Package sensor defines the inertial sample model and the datagram wire format.
//
// Each UDP datagram carries exactly one reading:
//
//	{"channel": "acceleration", "timestamp": 1712345678901234567, "values": {"x": 0.1, "y": -0.2, "z": 9.7}}
//
// Channel names accept the Android sensor aliases (linear_acceleration, gyroscope,
// rotation_vector), and "sensor" is accepted in place of "channel". Orientation samples
// carry a quaternion; a missing w defaults to 1. The timestamp is required and is read as
// nanoseconds on the device clock.
package sensor
