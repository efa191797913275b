// Package server hosts the Fiber HTTP service and its middleware chain. It
// generates request ids, maps the inbound Host header to the target origin
// the request is meant for, and hands the request to a ProxyHandler.
// Diagnostics under /-/ bypass target resolution and are registered by the
// routes subpackage.
package server
