// Package domain defines the core domain models for hamesh.
//
// Domain models are pure value objects without IO dependencies:
//
//   - ObjectPath: [namespace/]kind/name object identifiers
//   - Role, Grants, Identity: access control vocabulary
//   - InstanceStatus, InstanceMonitor: per-node object state
//   - Lock, KeyMeta, Event: dataset and event records
//   - Errors: coded domain errors mapped to response classes
package domain
