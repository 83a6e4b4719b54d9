// Package index keeps donor positions in a latitude/longitude grid so radius
// queries only inspect nearby cells.
package index

import (
	"math"
	"sort"
	"sync"

	"bloodmatch/pkg/geo"
	"bloodmatch/pkg/model"
)

const DefaultCellSizeDegrees = 0.05

// Hit is a donor found by a radius query.
type Hit struct {
	DonorID        string
	DistanceMeters float64
}

type cellKey struct {
	lat int
	lon int
}

type entry struct {
	position model.Position
	cell     cellKey
}

// Grid is safe for concurrent use. Queries share a read lock, so a query sees
// either the whole of an upsert or none of it.
type Grid struct {
	mu       sync.RWMutex
	cellSize float64
	latCells int
	lonCells int
	entries  map[string]entry
	cells    map[cellKey]map[string]struct{}
}

func NewGrid(cellSizeDegrees float64) *Grid {
	if cellSizeDegrees <= 0 || cellSizeDegrees > 90 {
		cellSizeDegrees = DefaultCellSizeDegrees
	}
	return &Grid{
		cellSize: cellSizeDegrees,
		latCells: int(math.Ceil(180/cellSizeDegrees - 1e-9)),
		lonCells: int(math.Ceil(360/cellSizeDegrees - 1e-9)),
		entries:  make(map[string]entry),
		cells:    make(map[cellKey]map[string]struct{}),
	}
}

// Upsert inserts or moves a donor. Repeating it with the same position is a no-op.
func (g *Grid) Upsert(donorID string, pos model.Position) {
	key := g.cellOf(pos)

	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.entries[donorID]; ok && old.cell != key {
		g.removeFromCell(old.cell, donorID)
	}
	bucket := g.cells[key]
	if bucket == nil {
		bucket = make(map[string]struct{})
		g.cells[key] = bucket
	}
	bucket[donorID] = struct{}{}
	g.entries[donorID] = entry{position: pos, cell: key}
}

// Remove drops a donor from query results; unknown ids are ignored.
func (g *Grid) Remove(donorID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	old, ok := g.entries[donorID]
	if !ok {
		return
	}
	g.removeFromCell(old.cell, donorID)
	delete(g.entries, donorID)
}

func (g *Grid) Position(donorID string) (model.Position, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entries[donorID]
	return e.position, ok
}

func (g *Grid) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}

// QueryRadius returns every donor whose haversine distance to center is at
// most radiusMeters, nearest first. Equal distances order by donor id.
func (g *Grid) QueryRadius(center model.Position, radiusMeters float64) []Hit {
	if radiusMeters < 0 {
		return nil
	}
	box := geo.BoundingBox(center, radiusMeters)

	g.mu.RLock()
	var hits []Hit
	g.visitCells(box, func(bucket map[string]struct{}) {
		for id := range bucket {
			d := geo.Distance(center, g.entries[id].position)
			if d <= radiusMeters {
				hits = append(hits, Hit{DonorID: id, DistanceMeters: d})
			}
		}
	})
	g.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DistanceMeters != hits[j].DistanceMeters {
			return hits[i].DistanceMeters < hits[j].DistanceMeters
		}
		return hits[i].DonorID < hits[j].DonorID
	})
	return hits
}

// visitCells calls fn for every populated cell intersecting the box, padded by
// one cell on each side to absorb rounding at cell borders.
// Must be called while holding g.mu.
func (g *Grid) visitCells(box geo.Box, fn func(map[string]struct{})) {
	latLo := max(g.latIndex(box.MinLat)-1, 0)
	latHi := min(g.latIndex(box.MaxLat)+1, g.latCells-1)

	// Scanning populated cells is cheaper than walking a huge window.
	window := latHi - latLo + 1
	if !box.FullLongitude {
		window *= g.lonSpan(box)
	} else {
		window *= g.lonCells
	}
	if window >= len(g.cells) {
		for key, bucket := range g.cells {
			if key.lat >= latLo && key.lat <= latHi {
				fn(bucket)
			}
		}
		return
	}

	for lat := latLo; lat <= latHi; lat++ {
		if box.FullLongitude {
			for lon := 0; lon < g.lonCells; lon++ {
				if bucket := g.cells[cellKey{lat: lat, lon: lon}]; bucket != nil {
					fn(bucket)
				}
			}
			continue
		}
		start := int(math.Floor((box.MinLon+180)/g.cellSize)) - 1
		for i := 0; i < g.lonSpan(box); i++ {
			lon := wrap(start+i, g.lonCells)
			if bucket := g.cells[cellKey{lat: lat, lon: lon}]; bucket != nil {
				fn(bucket)
			}
		}
	}
}

func (g *Grid) lonSpan(box geo.Box) int {
	start := int(math.Floor((box.MinLon+180)/g.cellSize)) - 1
	end := int(math.Floor((box.MaxLon+180)/g.cellSize)) + 1
	return min(end-start+1, g.lonCells)
}

func (g *Grid) cellOf(pos model.Position) cellKey {
	return cellKey{
		lat: min(g.latIndex(pos.Latitude), g.latCells-1),
		lon: wrap(int(math.Floor((pos.Longitude+180)/g.cellSize)), g.lonCells),
	}
}

func (g *Grid) latIndex(lat float64) int {
	return max(int(math.Floor((lat+90)/g.cellSize)), 0)
}

// Must be called while holding g.mu.
func (g *Grid) removeFromCell(key cellKey, donorID string) {
	bucket := g.cells[key]
	delete(bucket, donorID)
	if len(bucket) == 0 {
		delete(g.cells, key)
	}
}

func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}
