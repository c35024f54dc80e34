// Package services provides the centralized service registry for
// taskforged.
//
// Registry pattern for accessing all core services (run manager,
// checkpoint, escalation, store, metrics, gate, vcs). Use NewRegistry()
// to create a registry with service instances, then accessor methods to
// retrieve individual services.
package services
