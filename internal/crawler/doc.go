// Package crawler holds the request and result model of the tiered fetch
// service, its error taxonomy, the request validator and the interfaces that
// the dispatcher, API and worker packages are wired through.
package crawler
