// Package crawler implements the two-level link crawl and the types shared by
// the job store, orchestrator, dispatcher, and HTTP layer.
package crawler
