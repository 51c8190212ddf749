// Package store houses concrete implementations of core.ContextStore. The
// interface itself lives in the core package to centralize domain contracts;
// keeping only implementations here prevents higher level packages
// (orchestrator, supervisor) from depending on concrete storage.
//
// Add additional backends (Redis, Postgres, Firestore, etc.) in sub-packages
// without changing any calling code – only the wiring layer needs to decide
// which implementation to instantiate.
package store
