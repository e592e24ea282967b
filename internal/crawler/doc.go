// Package crawler defines the core types and interfaces shared across the
// crawl execution subsystems: fetch outcomes, error taxonomy, visit intents,
// and the collaborator contracts (fetchers, stores, publishers).
package crawler
