// Package builtin bundles the capabilities that ship with the server.
package builtin

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/wispchat/wisp/pkg/capability"
)

// RollDice returns a capability that rolls a single die. The roll
// function is injectable so tests can pin the outcome.
func RollDice(roll func(sides int) int) *capability.Capability {
	if roll == nil {
		roll = func(sides int) int { return rand.IntN(sides) + 1 }
	}
	return &capability.Capability{
		ID: "roll_dice",
		Schema: capability.Schema{
			Name:        "roll_dice",
			Description: "Roll a die and return the result. Use this whenever an outcome should be left to chance.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"sides": map[string]any{
						"type":        "integer",
						"description": "Number of sides on the die. Defaults to 6.",
					},
				},
			},
		},
		Enabled: true,
		Handler: capability.Plain(func(ctx context.Context, inv capability.Invocation, rc *capability.ResponseContext) (string, error) {
			sides := 6
			if raw, ok := inv.Arguments["sides"]; ok {
				// JSON numbers decode as float64.
				if f, ok := raw.(float64); ok && f >= 1 {
					sides = int(f)
				}
			}
			return fmt.Sprintf("%d", roll(sides)), nil
		}),
	}
}
