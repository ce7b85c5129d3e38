// Package schedule owns the per-compartment dosing records and their persistence.
//
// Every mutation goes through Store.Update, which serializes the
// load-modify-save sequence so the evaluator, the device bridge and operator
// intents never overwrite each other's changes.
package schedule
