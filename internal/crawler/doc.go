// Package crawler defines the domain types, collaborator interfaces and error
// taxonomy shared by the price crawl pipeline.
package crawler
