// Package secrets provides secret detection and redaction using gitleaks.
//
// All phase artifacts and escalation reports pass through scrubbing
// before they are persisted or published. Findings keep metrics (rule
// IDs, counts, positions) while the secret values themselves are
// replaced with [REDACTED:rule-id] markers.
//
// Allowlists come from the project's .taskforgeleaks.toml and an
// optional per-user file, merged with union semantics.
package secrets
