/*
Package observability provides tools for monitoring invocation lifecycles.

It includes an event aggregator that fans invocation and stream progress
events out to multiple emitters and channel subscribers for real-time
monitoring.
*/
package observability
