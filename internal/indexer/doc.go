// Package indexer defines the domain types and capability interfaces shared by
// the sitemap resolver, the URL catalog, the indexing client and the
// crawl-and-submit workflow.
package indexer
