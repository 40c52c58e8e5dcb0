package booter

import (
	"context"

	"github.com/mattjoyce/forkboot/internal/channel"
	"github.com/mattjoyce/forkboot/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_booter.go -package=mocks github.com/mattjoyce/forkboot/internal/booter CommandChannel,Terminator

// CommandChannel is the inbound command source the booter listens on.
type CommandChannel interface {
	Subscribe(kind protocol.Kind, h channel.Handler)
	Start(ctx context.Context) error
	Stop()
}

// Terminator ends the process. Neither method is expected to return in
// production.
type Terminator interface {
	// Halt terminates immediately, skipping exit hooks.
	Halt(code int)
	// Exit runs exit hooks, then terminates.
	Exit(code int)
}

// stopper is anything the shutdown sequence cancels.
type stopper interface {
	Stop()
}
