package qibla

import (
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

const (
	DefaultCacheSize = 256
	// DefaultCacheGridDeg is about 11 m of latitude.
	DefaultCacheGridDeg = 0.0001
)

type gridKey struct {
	lat int64
	lon int64
}

// SolveCache memoizes Solve on a coordinate grid. It is owned by whoever
// creates it and safe for concurrent use.
type SolveCache struct {
	grid  float64
	cache *lru.Cache[gridKey, Target]
}

// NewSolveCache builds a cache of size entries; grid <= 0 selects
// DefaultCacheGridDeg.
func NewSolveCache(size int, grid float64) (*SolveCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if grid <= 0 || math.IsNaN(grid) {
		grid = DefaultCacheGridDeg
	}
	c, err := lru.New[gridKey, Target](size)
	if err != nil {
		return nil, errors.Wrap(err, "solve cache")
	}
	return &SolveCache{grid: grid, cache: c}, nil
}

// Solve returns the cached target for the grid cell containing (lat,lon),
// computing it from the exact coordinates on a miss.
func (s *SolveCache) Solve(lat, lon float64) Target {
	k := gridKey{
		lat: int64(math.Round(lat / s.grid)),
		lon: int64(math.Round(lon / s.grid)),
	}
	if t, ok := s.cache.Get(k); ok {
		return t
	}
	t := Solve(lat, lon)
	s.cache.Add(k, t)
	return t
}

func (s *SolveCache) Len() int { return s.cache.Len() }

func (s *SolveCache) Purge() { s.cache.Purge() }
