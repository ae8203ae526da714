// Package cache provides a file-backed, time-boxed cache around a single
// expensive producer. A stored payload is served while it is younger than
// the cache TTL and accepted by the validator; otherwise the producer is
// called and its result replaces the store wholesale.
package cache
