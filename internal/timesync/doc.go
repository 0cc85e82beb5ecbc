// Package timesync keeps the device clock synchronized against a time server
// and broadcasts clock-step deltas to registered observers.
//
// # Scheduling model
//
// The service owns at most one in-flight server session and at most one armed
// one-shot timer. Every session, regardless of outcome, ends with a Closed
// event, and that close path is the single re-entry point that re-arms the
// schedule. Until the first successful sync, retries use jittered exponential
// backoff between RetryMin and RetryMax; once synced, attempts run at the
// steady UpdateInterval cadence.
//
// When a timer fires it immediately re-arms a safety-net timer before the
// attempt outcome is known, because a reply may never arrive. A successful
// reply disarms it.
//
// # Clock-step fanout
//
// On a successful sync the signed correction (server time minus local time at
// receipt) is delivered synchronously to every registered observer, most
// recently registered first, so time-relative work elsewhere (pending
// deferred-job deadlines) can be shifted by the same amount.
package timesync
