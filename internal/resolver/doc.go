// Package resolver discovers the latest available build by fetching the
// remote manifest with a single bounded HTTP GET. It fails closed and
// carries no retry logic of its own.
package resolver
