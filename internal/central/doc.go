// Package central implements the application-level BLE central state machine.
//
// It covers:
//   - Adapter availability tracking and connection-event registration
//   - An insertion-ordered registry of connected peripherals keyed by PeerID
//   - Routing of connection and disconnection events into the registry
//   - A per-peripheral GATT discovery pipeline (services, characteristics,
//     notification subscription, value updates) with per-stage timeouts
//   - An event log of discovery milestones and value updates
//
// All state is owned by a single event loop (Central.Run). Platform backends and
// the presentation shell talk to it through Central.Post and the read-only views.
package central
