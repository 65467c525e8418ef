package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/adwski/sketchwire/model"
)

const (
	painterInterval = 100 * time.Millisecond

	canvasWidth  = 800
	canvasHeight = 600

	strokeStartRadius = 32
	strokeEndRadius   = 4
	strokeDecay       = 0.5
)

// runPainter feeds the queue with synthetic strokes: a create at a random
// canvas point, then a shrinking update per tick until the stroke fades,
// then the next stroke. It exercises the whole pipeline without a GUI.
func runPainter(ctx context.Context, logger *zerolog.Logger, queue *model.ActionQueue, origin model.Origin) {
	log := logger.With().Str("component", "painter").Logger()

	gen := model.NewIDGenerator(origin)
	ticker := time.NewTicker(painterInterval)
	defer ticker.Stop()

	log.Info().Msg("painter started")

	var (
		id   string
		geom model.Geometry
	)
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("painter stopped")
			return
		case <-ticker.C:
		}

		var a model.Action
		if id == "" || geom.R <= strokeEndRadius {
			id = gen.Next()
			geom = model.Geometry{
				X: rand.Float64() * canvasWidth,
				Y: rand.Float64() * canvasHeight,
				R: strokeStartRadius,
			}
			a = model.CreateAction(model.Shape{ID: id, Origin: origin, Geometry: geom})
		} else {
			geom.R -= strokeDecay
			a = model.UpdateAction(id, geom)
		}

		if err := queue.Enqueue(a); err != nil {
			log.Debug().Err(err).Msg("painter stopped, queue closed")
			return
		}
	}
}
