// Package events carries typed lifecycle notifications between the
// processing core and its observers.
//
// The Bus decouples queue and batch state mutation from listener execution:
// Publish never blocks the caller, dispatch happens on a dedicated
// goroutine, and each handler runs behind panic recovery so one bad
// subscriber cannot corrupt core state. Overflow is handled by dropping the
// event and counting the drop rather than applying backpressure to the
// publisher.
//
// External transports (streaming, metrics sinks, the job journal) subscribe
// here; nothing in this package knows what a listener does with an event.
package events
