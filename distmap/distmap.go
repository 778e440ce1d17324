// Package distmap provides a voxel-grid implementation of the DistanceField
// interface. Production deployments back the field with a full occupancy
// mapping stack; this grid serves tests, simulation and the replay binary.
package distmap

import (
	"fmt"
	"math"
)

// Grid is an axis-aligned voxel grid holding a per-voxel occupancy
// likelihood in [0, 1]. Queries outside the grid return 0.
type Grid struct {
	res      float64
	min      [3]float64
	nx, ny   int
	nz       int
	lik      []float64
	occupied [][3]int
}

// NewGrid creates a grid covering the box [min, max] with the given voxel
// resolution. It returns an error for a degenerate box or resolution.
func NewGrid(min, max [3]float64, res float64) (*Grid, error) {
	if res <= 0 {
		return nil, fmt.Errorf("invalid resolution: %v", res)
	}
	for i := 0; i < 3; i++ {
		if max[i] <= min[i] {
			return nil, fmt.Errorf("invalid bounds: min %v, max %v", min, max)
		}
	}

	nx := int(math.Ceil((max[0]-min[0])/res)) + 1
	ny := int(math.Ceil((max[1]-min[1])/res)) + 1
	nz := int(math.Ceil((max[2]-min[2])/res)) + 1

	return &Grid{
		res: res,
		min: min,
		nx:  nx,
		ny:  ny,
		nz:  nz,
		lik: make([]float64, nx*ny*nz),
	}, nil
}

// Add marks the voxel containing (x, y, z) as occupied.
// Points outside the grid bounds are ignored.
func (g *Grid) Add(x, y, z float64) {
	i, j, k, ok := g.voxel(x, y, z)
	if !ok {
		return
	}
	idx := g.index(i, j, k)
	if g.lik[idx] != 1.0 {
		g.lik[idx] = 1.0
		g.occupied = append(g.occupied, [3]int{i, j, k})
	}
}

// Smooth spreads each occupied voxel's likelihood to its neighbourhood with
// a Gaussian falloff of standard deviation sigma (in map units), so that
// near-misses still score. Voxels keep the maximum likelihood splatted onto
// them. Call once after all occupied voxels are added.
func (g *Grid) Smooth(sigma float64) {
	if sigma <= 0 {
		return
	}

	reach := int(math.Ceil(3.0 * sigma / g.res))
	inv := 1.0 / (2.0 * sigma * sigma)

	for _, v := range g.occupied {
		for di := -reach; di <= reach; di++ {
			for dj := -reach; dj <= reach; dj++ {
				for dk := -reach; dk <= reach; dk++ {
					i, j, k := v[0]+di, v[1]+dj, v[2]+dk
					if i < 0 || i >= g.nx || j < 0 || j >= g.ny || k < 0 || k >= g.nz {
						continue
					}
					d2 := float64(di*di+dj*dj+dk*dk) * g.res * g.res
					l := math.Exp(-d2 * inv)
					idx := g.index(i, j, k)
					if l > g.lik[idx] {
						g.lik[idx] = l
					}
				}
			}
		}
	}
}

// Likelihood returns the occupancy likelihood of the voxel containing
// (x, y, z), or 0 outside the grid.
func (g *Grid) Likelihood(x, y, z float64) float64 {
	i, j, k, ok := g.voxel(x, y, z)
	if !ok {
		return 0.0
	}
	return g.lik[g.index(i, j, k)]
}

func (g *Grid) voxel(x, y, z float64) (i, j, k int, ok bool) {
	i = int(math.Floor((x - g.min[0]) / g.res))
	j = int(math.Floor((y - g.min[1]) / g.res))
	k = int(math.Floor((z - g.min[2]) / g.res))

	if i < 0 || i >= g.nx || j < 0 || j >= g.ny || k < 0 || k >= g.nz {
		return 0, 0, 0, false
	}
	return i, j, k, true
}

func (g *Grid) index(i, j, k int) int {
	return (i*g.ny+j)*g.nz + k
}
