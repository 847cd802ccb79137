// Package app composes the raffle layer into a running application.
//
//	internal/app/
//	├── application.go   # wiring and lifecycle
//	├── stores.go        # storage backend selection
//	├── rounds.go        # round history recorder
//	├── httpapi/         # HTTP routes and handlers
//	└── system/          # service lifecycle manager
//
// Wiring order: config, stores, ledger, oracle, raffle machine, event
// subscribers, background services. Business rules live in internal/raffle,
// internal/vrf and internal/ledger; this package only connects them.
package app
