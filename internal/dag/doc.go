// Package dag holds the dependency side of the scheduler.
//
// Queue releases keys in topological order as their dependencies finish,
// carrying a Freshness along each edge. Validate checks an enqueued graph
// for cycles and dangling dependencies before anything runs.
package dag
