// Package types defines the wire and domain model shared by every worker
// node component: run lifecycle records, task payloads, execution plans,
// log entries, and the messages exchanged with the Master.
package types

// Version is the canonical agent version, reported in NodeInfo and in the
// streaming driver's Register call.
const Version = "0.1.0"
