// Package queue is the lifecycle engine for queues, messages and claims.
//
// A claim is a bounded lease over a batch of messages. Claiming makes the
// batch invisible to other consumers for the claim's ttl; a consumer that
// finishes acknowledges each message by deleting it under the claim, and a
// consumer that stalls simply lets the claim lapse, after which the
// messages become claimable again. Delivery is therefore at-least-once.
//
// All expiry is evaluated at read time against the caller's clock; nothing
// depends on a background sweep. The Reclaimer exists only to reclaim
// storage occupied by end-of-life messages and expired claim records.
package queue
