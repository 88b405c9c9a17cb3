// Package metrics exports Prometheus metrics for containers, snapshots,
// and symbol loads.
//
// A Collector implements the observer interfaces of pkg/reactive,
// pkg/snapshot, and pkg/qrl. Install it where each is configured:
//
//	m := metrics.New(metrics.WithRegistry(reg))
//	resolver := qrl.NewResolver(loader, qrl.WithResolverObserver(m))
//	c := reactive.NewContainer(reactive.WithResolver(resolver), reactive.WithObserver(m))
//	snap, err := snapshot.Serialize(c, snapshot.WithObserver(m))
package metrics
