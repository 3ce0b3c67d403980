// Package errors classifies failures for the gesturegate pipeline.
//
// Three classes drive loop behavior:
//
//   - Transient: the current item is skipped and the loop continues (classifier errors,
//     publish timeouts, queue overflow).
//   - Invalid: bad input or configuration is rejected (malformed datagrams, unknown
//     channels, schema violations).
//   - Fatal: the pipeline stops (socket closed, feature layout mismatch at startup).
//
// Wrap helpers attach component and operation context:
//
//	if err := conn.SetReadBuffer(size); err != nil {
//	    return errors.WrapTransient(err, "udp-input", "bind", "set read buffer")
//	}
//
// The resulting message reads "udp-input.bind: set read buffer failed: <cause>" and the
// cause stays reachable through errors.Is and errors.As.
package errors
