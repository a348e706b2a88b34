// Package events forwards registry events to the outside world.
//
// A registry emits every event to one interfaces.EventSink while it still
// holds its lock, so sinks see events in commit order. LogSink writes them to
// slog, KafkaSink produces them to a topic keyed by certificate or
// institution, and MultiSink fans one event out to several sinks.
package events
