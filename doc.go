// Package harbor provides the Harbor real-time delivery server.

// This package contains only documentation. The implementation is
// organized into subpackages:

// - cmd/server: API and WebSocket server entry point
// - cmd/cli: command-line client (send messages, tail live events)
// - cmd/seed: development database seeding
// - internal/bus: Redis pub/sub event bus shared by all server processes
// - internal/websocket: WebSocket gateway, hub, presence, call signaling
// - internal/session: reconnecting client session for Go consumers
// - internal/handlers: HTTP request handlers for all API endpoints
// - internal/models: data models and database schemas
// - internal/auth: authentication and token services
// - internal/database: database connection and migrations
// - internal/cache: Redis client
// - internal/middleware: HTTP middleware (rate limiting, logging, auth)
// - internal/config: environment-driven configuration
// - internal/logger: structured logging
// - internal/metrics: Prometheus metrics
// - internal/telemetry: OpenTelemetry tracing
// - internal/seed: seed data generation

// See the individual package documentation for detailed reference.
package harbor
