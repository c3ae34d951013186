// Package flowcontrol gates how much pending data a writer may send per
// drain round.
//
// A drain builds an ordered candidate list of Items (one per unsent change or
// fragment) and passes it through each Controller in turn: writer-local
// controllers first, then the participant-wide ones from a Registry. A
// controller returns the prefix (or reordering) it admits; if any controller
// returned fewer items than it was given the round is "limited" and the
// writer waits until NextAvailable before trying again.
//
// Controllers may be shared by many writers and must be safe for concurrent
// use.
package flowcontrol
