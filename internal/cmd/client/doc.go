// Package client contains Cobra CLI commands for the wharf HTTP API: thin
// wrappers that marshal flags into JSON requests and print responses, with
// no business logic of their own.
package client
