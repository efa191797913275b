// Package resource models the requests intercepted by shellcache and the
// response snapshots it serves, stores and fetches. A Response body can be
// read exactly once; callers that need to both return and store a response
// must call Clone first to obtain a second, independent copy.
package resource
