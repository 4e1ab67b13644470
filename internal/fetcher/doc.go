// Package fetcher downloads the installable artifact to a private
// destination, following redirects explicitly, and verifies the result
// against an expected SHA-256 digest.
//
// The invariant on return from Fetch: the destination file is absent or
// complete and verified, never partial.
package fetcher
