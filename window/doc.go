// Package window turns the per-channel sample stream into synchronized fixed-duration
// windows.
//
// The Assembler owns one ChannelBuffer per configured channel. Each ring holds
// ceil(duration × sample_rate) samples and evicts the oldest when full. Snapshot merges
// the rings into a Window ending at the newest device timestamp seen on any channel,
// keeping only samples in [End-Duration, End]. A channel with nothing in range is
// zero-filled and reported in Window.Missing, so classification can always proceed.
//
// A sample older than its channel's newest is dropped as out-of-order, unless it is older
// by more than the window duration. Then the device clock has restarted and the ring
// starts over from that sample.
package window
