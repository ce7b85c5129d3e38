// Package engine is the periodic dose evaluator.
//
// Every tick it walks the persisted record set, flips the one-shot flags whose
// due point has passed, persists the flips and only then hands the resulting
// events to the dispatcher. A failed save dispatches nothing; the next tick
// sees the same unflipped record and tries again.
package engine
