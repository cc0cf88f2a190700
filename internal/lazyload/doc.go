// Package lazyload schedules image loads for feed elements.
//
// A Loader keeps a priority queue of pending requests, promotes the ones
// whose elements come near the viewport, and dispatches at most
// MaxConcurrentLoads fetches at a time. URLs that already loaded once are
// served from the loaded-set without touching the queue.
//
// Completion is reported through optional callbacks and through the Ticket
// returned by Enqueue. Load failures never escape as returned errors; they are
// delivered to OnError and Ticket.Err wrapped in ErrLoadFailed.
package lazyload
