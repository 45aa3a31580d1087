// Package search decides when a chat message should be augmented with web
// search results and fetches them through a retrying Invoker.
package search
