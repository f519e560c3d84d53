// Package models defines the core domain models for the walk tracker.
//
// # Models
//
//   - Entry: one walk, either in progress (active) or completed
//   - User: a walker, keyed by email
//   - Change: a store change event delivered to watchers
//   - State: the full active + history view used for resynchronization
//
// # Design Principles
//
// 1. **Store owns identity**: entry ids and revisions are assigned by the store;
// clients may only use TempIDPrefix ids for optimistic views
// 2. **Users by value**: entries carry user records, users never reference entries
// 3. **Errors are data**: every failure matches one of ErrValidation, ErrNotFound,
// ErrConflict or ErrTransport through errors.Is
//
// # Entry Invariants
//
//   - mode == auto implies location == outside
//   - endTime is set iff status == completed and location == outside
//   - pees and poops are never negative
//   - users hold at most one record per email
package models
