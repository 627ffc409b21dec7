// Package crawler defines the job, page and graph types plus the interfaces
// (job store, crawl runner, result sink, fetcher) that the scheduler, the crawl
// engine and the storage backends agree on.
package crawler
