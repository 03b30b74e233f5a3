package main

import (
	"github.com/BurntSushi/toml"
	"github.com/aukilabs/dquad/geom"
	"github.com/aukilabs/dquad/partition"
	"github.com/aukilabs/dquad/quadtree"
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// layout is the domain decomposition shared by every process of a job.
//
//	size = [100, 100]
//	toroidal = true
//	aoi = [2, 2]
//	split_points = [[50, 50], [25, 25], [75, 75]]
type layout struct {
	Size        []int   `toml:"size"`
	Toroidal    bool    `toml:"toroidal"`
	AOI         []int   `toml:"aoi"`
	Uniform     bool    `toml:"uniform"`
	SplitPoints [][]int `toml:"split_points"`
}

func loadLayout(filename string) (layout, error) {
	var l layout

	md, err := toml.DecodeFile(filename, &l)
	if err != nil {
		return layout{}, errors.New("decoding layout failed").
			WithType(quadtree.ErrTypeInvalidConfiguration).
			WithTag("file_name", filename).
			Wrap(err)
	}

	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return layout{}, errors.New("unknown layout keys").
			WithType(quadtree.ErrTypeInvalidConfiguration).
			WithTag("file_name", filename).
			WithTag("keys", keys)
	}

	if err := l.validate(); err != nil {
		return layout{}, errors.New("invalid layout").
			WithType(errors.Type(err)).
			WithTag("file_name", filename).
			Wrap(err)
	}
	return l, nil
}

func (l layout) validate() error {
	if len(l.Size) == 0 {
		return errors.New("layout has no size").
			WithType(quadtree.ErrTypeInvalidConfiguration)
	}

	if l.Uniform && len(l.SplitPoints) != 0 {
		return errors.New("uniform layout cannot have split points").
			WithType(quadtree.ErrTypeInvalidConfiguration).
			WithTag("split_points", l.SplitPoints)
	}

	for _, p := range l.SplitPoints {
		if len(p) != len(l.Size) {
			return errors.New("split point dimensions do not match the size").
				WithType(quadtree.ErrTypeInvalidConfiguration).
				WithTag("point", p).
				WithTag("size", l.Size)
		}
	}
	return nil
}

func (l layout) partitionConfig() partition.Config {
	return partition.Config{
		Size:     l.Size,
		Toroidal: l.Toroidal,
		AOI:      l.AOI,
	}
}

func (l layout) splitPoints() []geom.Point {
	points := make([]geom.Point, len(l.SplitPoints))
	for i, p := range l.SplitPoints {
		points[i] = geom.NewPoint(p...)
	}
	return points
}
