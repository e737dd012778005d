// Package entitycache is a write-behind cache of entities in front of a
// storage.Accessor.
//
// A Service owns two routed executor pools, an I/O pool that serializes
// storage writes per route key and a CPU pool that runs dirty checks and
// application mutations, plus one Repository per registered kind.
//
//	svc := entitycache.New(store, entitycache.Options{})
//	players, _ := entitycache.Register(svc, playerKind)
//	svc.Start()
//	defer svc.Stop(ctx)
//
//	err := players.Do(ctx, 42, func(ctx context.Context, p *Player) error {
//		p.Level++
//		return nil
//	})
//
// Get loads through on a miss and inserts a fresh entity when storage has
// none. Every Options.PersistInterval the service expires idle entries and
// writes each remaining entity's changed fields as a partial update. An
// evicted entity is written in full before it leaves the cache, and Stop
// writes every cached entity in full before draining the pools.
//
// Entities must only be mutated on their CPU lane (Repository.Do or a unit
// submitted to Service.CPU with the entity's route key). Mutating elsewhere
// races with the dirty check and is not detected.
package entitycache
