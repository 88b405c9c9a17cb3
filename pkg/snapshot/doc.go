// Package snapshot serializes a reactive container into a flat, indexed
// graph and resumes it lazily in another process.
//
// # Format
//
// A Snapshot is a list of entries. Each entry is a tag followed by a
// payload; payloads reference other entries by index, so shared values are
// emitted once and cycles are permitted:
//
//	{"v":1,"epoch":1,"container":"c1","roots":{"state":0},"subs":[3],
//	 "deferred":[],"entries":[["P",1],["o","count",2],["i",0],["T",4,0,"count"],...]}
//
// Tags are single characters owned by a Codec. The built-in codecs cover
// primitives, slices, maps, sets, times, URLs, errors, big integers,
// promises, lazy symbols, and every reactive type; Register adds custom
// codecs for application types.
//
// # Serializing
//
//	snap, err := snapshot.Serialize(c)
//	data, err := snap.Marshal()
//
// Reactive identities keep the index they were given by earlier rounds, so
// subscription metadata stays valid across repeated snapshots of one
// container.
//
// # Resuming
//
//	snap, err := snapshot.Parse(data)
//	c, g, err := snapshot.Resume(snap)
//	state, err := g.Root("state")
//
// Entries are materialized on first access. Subscribers are restored
// eagerly, but their bodies are decoded and loaded only when they run, and
// each restored subscription attaches only when its source materializes.
package snapshot
