// Package app composes the provenance layer into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, backend selection, lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── provenance/     # Content records and pending transfers
//	│   ├── verifier/       # Verifiers, tasks, balances, treasury
//	│   ├── oracle/         # Oracles and detection results
//	│   └── access/         # Policies, grants, access requests
//	├── services/           # Operations over the ledger, one package per module
//	├── storage/            # Backend interface; memory, postgres, leveldb
//	├── httpapi/            # REST and websocket API
//	├── system/             # Lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/provenanced/
//	      │
//	      ▼
//	internal/app/httpapi ──► internal/app (composition)
//	                               │
//	                               ├──► internal/app/services/... ──► internal/engine/ledger
//	                               │                                        │
//	                               │                                        ▼
//	                               └──► internal/app/storage/... ◄──────────┘
//
// Every state change is a ledger transaction. Services never write storage
// directly and never hold state outside the ledger, so any number of API
// processes may share a postgres backend.
package app
