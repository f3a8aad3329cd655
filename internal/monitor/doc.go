// Package monitor keeps each registered display's reachability current.
//
// The Monitor implements device.Watcher: the registry calls Watch when an
// address is added and Unwatch when it is removed or re-keyed. Each watched
// address gets its own goroutine that probes immediately, then once per
// interval, and writes Online/Offline/Error back through the registry.
// A panicking or failing probe marks the display Error and the task keeps
// running.
package monitor
