// Package crawler drives the Matricula crawl pipelines. Every pipeline runs a
// colly collector in the background and streams its records on a channel
// that is closed once the collector has no pending requests left.
//
// Responses are classified by status before any extraction rule runs; HTTP
// failures are reported to the user and the crawl continues with the other
// pending requests.
package crawler
