// Package core contains the signature domain model, ports, configuration and the
// Service that orchestrates intake, routing and challenge dispatch. Routing,
// dispatch, breaker, degraded-mode and storage implementations live in sibling
// packages and depend on core; core does not depend on them.
package core
