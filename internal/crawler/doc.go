// Package crawler defines the shared search-crawl types and the collaborator
// interfaces (fetcher, parser, raw store, publisher, account store) that the
// orchestration packages are written against.
package crawler
