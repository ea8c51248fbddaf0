package main

import (
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/OCAP2/physync/internal/engine"
	"github.com/OCAP2/physync/internal/session"
	"github.com/OCAP2/physync/pkg/core"
)

const (
	sceneClass   uint8 = 1
	kickInterval       = 50
)

// populateScene queues the same bodies on every participant; seed makes the
// initial motion identical everywhere. They enter the world on the next tick.
func populateScene(h *session.Host, count int, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, seed))
	for i := range count {
		cfg := engine.BodyConfig{
			Transform: core.Transform{
				Position:    mgl32.Vec3{float32(i) * 2, 10, 0},
				Orientation: mgl32.QuatIdent(),
			},
			LinearVelocity:  mgl32.Vec3{spread(rng, 2), rng.Float32() * 4, spread(rng, 2)},
			AngularVelocity: mgl32.Vec3{spread(rng, 1), spread(rng, 1), spread(rng, 1)},
			Mass:            1 + rng.Float32(),
		}
		h.EnqueueBody(sceneBody(i), cfg)
	}
}

func sceneBody(i int) core.BodyID {
	return core.NewBodyID(sceneClass, 0, uint32(i))
}

func spread(rng *rand.Rand, n float32) float32 {
	return (rng.Float32()*2 - 1) * n
}

// kicker pushes a random body upward every kickInterval ticks. On a client
// the push is forwarded to the authority as input.
type kicker struct {
	host  *session.Host
	count int
	rng   *rand.Rand
}

func newKicker(h *session.Host, count int, seed uint64) *kicker {
	return &kicker{host: h, count: count, rng: rand.New(rand.NewPCG(seed, 0x6b69636b))}
}

func (k *kicker) OnStep(tick uint32) {
	if k.count == 0 || tick == 0 || tick%kickInterval != 0 {
		return
	}
	call := core.MethodCall{
		Body:   sceneBody(k.rng.IntN(k.count)),
		Method: core.MethodAddForce,
		Args: core.MethodArgs{
			Vector: mgl32.Vec3{spread(k.rng, 50), 400, spread(k.rng, 50)},
		},
	}
	if err := k.host.Request(call); err != nil {
		k.host.Logger().Debug("kick failed", "body", call.Body.String(), "error", err)
	}
}
