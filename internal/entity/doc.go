// Package entity turns device snapshots into named values and named values
// back into state writes.
//
// Every entity is a static record implementing Entity. Records that accept
// values implement Writable; reset buttons implement Pressable. Setup picks
// the records for a device: the platforms of its class (PlatformsFor)
// filtered by each record's existence predicate.
//
// Writes never touch the device directly. WriteIntent and PressIntent
// validate the input and return a transform for
// coordinator.Coordinator.UpdateState, so writes compose with other pending
// changes.
package entity
