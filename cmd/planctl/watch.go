package main

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/c360studio/planengine/bus"
	"github.com/c360studio/planengine/imc"
)

// watchBus dials the bus and forwards PlanControlState updates and
// PlanControl replies into the bubbletea program as messages, reconnecting
// with a fixed backoff on dial failure. It never returns until ctx is
// cancelled, so it is launched as a goroutine from main.
func watchBus(ctx context.Context, opts bus.Options, program *tea.Program) {
	const retryDelay = 3 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b, err := bus.Connect(ctx, opts)
		if err != nil {
			program.Send(connErrMsg{err: err})
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
				continue
			}
		}

		program.Send(connOKMsg{})
		runConsumer(ctx, b, program)
		_ = b.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

func runConsumer(ctx context.Context, b bus.Bus, program *tea.Program) {
	if err := b.Bind(ctx, imc.KindPlanControlState); err != nil {
		program.Send(connErrMsg{err: err})
		return
	}
	if err := b.Bind(ctx, imc.KindPlanControl); err != nil {
		program.Send(connErrMsg{err: err})
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-b.Messages():
			if !ok {
				return
			}
			switch env.Kind {
			case imc.KindPlanControlState:
				var s imc.PlanControlState
				if env.Decode(&s) == nil {
					program.Send(stateMsg(s))
				}
			case imc.KindPlanControl:
				var pc imc.PlanControl
				if env.Decode(&pc) == nil && pc.Type != imc.PCTypeRequest {
					program.Send(replyMsg(pc))
				}
			}
		}
	}
}
