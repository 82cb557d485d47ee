// Package events carries job lifecycle notifications between the components
// that enqueue jobs and the workers that run them.
//
// Emitters are best effort: a failed emission never rolls back a store
// operation, and workers keep polling the store regardless. The in-memory
// emitter serves a single process (API and worker together); the AMQP
// emitter and subscriber connect separate processes through a topic exchange.
package events
