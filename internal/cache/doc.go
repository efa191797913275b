// Package cache implements the generation-addressed store that backs the
// offline worker. A Store holds named generations; each generation maps a
// request key (method + URL, vary-aware) to a stored response Record. The
// filesystem layout is StoragePath/<generation>/<xx>/<sha256>.entry with
// temp file + rename writes; sqlite and redis backends keep the same
// semantics. Only the offline package decides what gets stored and when a
// generation is retired.
package cache
