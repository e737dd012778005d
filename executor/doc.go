// Package executor provides a routed executor pool: a fixed, power-of-two
// sized array of single-worker lanes, with every unit of work routed to a lane
// by its routing key.
//
// Design
//
//   - Actor model without locks: all work submitted under the same key runs on
//     the same lane in submission order. Work under keys that map to different
//     lanes runs concurrently. Keys that collide on a lane are serialized as a
//     side effect; callers must not depend on that.
//
//   - Lane selection: integer keys route by value, nil keys by a random value,
//     everything else by xxhash of the key. The index is hash & (lanes-1).
//
//   - Two pools per process: an I/O pool (2×GOMAXPROCS lanes) for storage calls
//     and a CPU pool (1×GOMAXPROCS lanes) for entity mutation and dirty
//     checking. Pools are plain values, constructed at start-up and passed to the
//     components that need them.
//
//   - Failure isolation: a unit that panics is recovered and logged; its lane
//     keeps draining. Call reports the failure as an *ExecutionFailure.
//
//   - Re-entrancy: the context handed to a unit carries its lane. A Call made
//     with that context to the same lane runs inline instead of deadlocking.
//
// Basic usage
//
//	io := executor.New(executor.Options{Name: "io", Multiplier: 2})
//	defer io.Shutdown(context.Background())
//
//	io.Run(playerID, func(ctx context.Context) { save(ctx, player) })
//
//	n, err := executor.CallFor(ctx, io, playerID, func(ctx context.Context) (int, error) {
//	    return count(ctx, player)
//	})
package executor
