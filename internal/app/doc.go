// Package app composes the gateway's services into a running application.
// It wires stores, vendor providers and lifecycle management together; the
// business logic itself lives in the service packages below it.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── analysis/       # Analysis records and the canonical result shape
//	│   ├── apikey/         # Issued API credentials
//	│   ├── chat/           # Conversations and messages
//	│   └── image/          # Stored image metadata
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces (ImageStore, AnalysisStore, ...)
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic (images, analysis, chat, ...)
//	├── httpapi/            # HTTP handlers and routing
//	├── cache/              # Redis-backed result cache
//	├── system/             # Lifecycle management
//	└── metrics/            # Prometheus collectors
//
// # Responsibilities
//
// The app package composes services with their dependencies, defines the
// storage interfaces they persist through, and owns application-level
// concerns such as lifecycle and metrics. Vendor REST clients live under
// internal/azure and are handed in through the Providers struct so every
// feature degrades cleanly when its provider is not configured.
//
// # Adding a New Domain
//
//  1. Create domain models in internal/app/domain/<name>/
//  2. Add a store interface to internal/app/storage/interfaces.go
//  3. Implement it in internal/app/storage/postgres/ and memory/
//  4. Create the service in internal/app/services/<name>/service.go
//  5. Wire it in internal/app/application.go
//  6. Add HTTP handlers in internal/app/httpapi/
package app
