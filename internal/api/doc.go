// Package api provides the stackd REST API. Handlers validate requests and
// call the core services; all stack work happens in stack chains.
package api
