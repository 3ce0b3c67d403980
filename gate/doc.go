// Package gate turns a stream of predictions into debounced action commands.
//
// A label commits once it has been predicted above the confidence threshold on
// RequiredConsecutive predictions in a row and is not cooling down from its previous
// commit. What a commit emits depends on the label kind:
//
//   - continuous labels press and hold (PhaseBegin) until another label commits or no
//     confirming prediction arrives within HoldTimeout (PhaseEnd)
//   - discrete labels emit a single PhasePulse, optionally releasing a held action first
//   - ignore labels, and labels missing from the table, only release a held action
//
// Gate is the single-goroutine state machine. Loop owns a Gate, feeds it from the
// prediction queue, drives the hold timeout and applies policy hot reloads.
package gate
