package builtin

import (
	"github.com/wispchat/wisp/pkg/capability"
	"github.com/wispchat/wisp/pkg/notify"
	"github.com/wispchat/wisp/pkg/storage"
)

// Source returns the builtin capability set backed by the given stores.
func Source(kv storage.KV, broker notify.Broker) capability.Source {
	return capability.NewStaticSource("builtin",
		RollDice(nil),
		SetGuidance(kv),
		CheckGuidance(kv),
		Narrate(),
		Announce(broker),
	)
}
