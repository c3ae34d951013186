// Package locator models reader addresses and the aggregated destination
// selection a writer sends to.
//
// A ReaderLocator is the per-reader delivery slot: the reader's GUID, its
// bounded unicast and multicast locator sets, whether it expects inline QoS,
// and, for readers living in this process, the in-memory reader plus the
// watermark that keeps intraprocess delivery exactly-once.
//
// A Selector aggregates the locators of every remote reader and can be
// narrowed to a subset (late joiners) and restored. After any change the
// selection must be recomputed with Compute before the next send.
package locator
