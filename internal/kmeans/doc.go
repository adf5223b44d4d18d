// Package kmeans implements the Lloyd's-algorithm engine shared by every
// execution strategy: random seeding, nearest-centroid assignment, centroid
// update and cost evaluation over flat row-major point buffers.
//
// The engine never communicates by itself. Cross-worker combination of
// partial results is delegated to a Reducer, so the same loop drives the
// sequential baseline, a worker of a grouped team and a replicated worker.
package kmeans
