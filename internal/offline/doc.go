// Package offline implements the caching decision engine of shellcache.
//
// A Worker owns exactly one current generation. Installing it preloads the
// local and external asset manifests into that generation; activating it
// deletes every other generation and makes the worker start controlling
// requests. Once controlling, every request is classified by host into a
// strategy profile and answered cache-first, falling back to the network and,
// for the generic strategy only, to the offline document or a 503 response.
package offline
