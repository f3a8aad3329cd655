// Package device provides the display registry for one transport backend.
//
// The Registry maps an address (IPv4 or hostname) to a Record holding the
// display's name, reachability status and response time. It is the only
// owner of that map: callers get deep copies, and every mutation goes
// through Register, Remove, Edit or ApplyHealth.
//
// # Concurrency
//
// Operations on one address are serialised by a per-address lock; Edit
// takes both the old and new address locks in sorted order. Operations on
// different addresses proceed in parallel. Readers (Get, Snapshot, Stats)
// only take a short read lock on the map.
//
// # Monitor integration
//
// A Watcher (the health monitor) is told to Watch an address on Register,
// Load and re-keying Edit, and to Unwatch it on Remove and re-keying Edit.
// ApplyHealth refuses updates whose context is cancelled, which makes
// removal immediate and final: a retired task can never resurrect a record.
//
// # Usage
//
//	reg := device.NewRegistry(store.NewDocuments(backend, "adb"))
//	reg.SetLogger(log)
//	reg.SetWatcher(mon)
//	if err := reg.Load(ctx); err != nil {
//	    return err
//	}
//	rec, err := reg.Register(ctx, "Lobby TV", "192.168.1.20")
package device
