// Package device bridges dose records and the dispenser's MQTT topics.
//
// Outbound, every intent and alarm becomes one JSON command on the command
// topic. Inbound, "medication taken" confirmations from the dispenser close
// the current cycle of the matching compartment.
package device
