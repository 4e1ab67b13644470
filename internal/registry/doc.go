// Package registry reads the installed build number of the target
// application from the platform package registry. The query is read-only
// and delegated to a configured command so deployments can plug in
// whatever their platform provides.
package registry
