// Package sitecontext resolves the context which partitions persisted state:
// the active base site, language, currency and cart. Each dimension is a
// Source of its active value, and a Resolver composes named Sources into
// tuples of values which change whenever any one dimension does.
//
// The package also owns the site-context state slice (active language and
// currency) and its persistence.
package sitecontext
