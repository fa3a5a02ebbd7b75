// Package politeness holds the per-source request pacing and robots.txt
// compliance checks applied before every page load.
package politeness
