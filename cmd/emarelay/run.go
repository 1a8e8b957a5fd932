package main

import (
	"context"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	orchestration "github.com/koscakluka/ema-relay/core"
	"github.com/koscakluka/ema-relay/core/status"
)

// turnSetup is everything one command needs to drive a turn.
type turnSetup struct {
	config        orchestration.Config
	transport     orchestration.Transport
	message       string
	decide        decision
	preflightPath string
	plain         bool
	out           io.Writer
}

// runTurn drives one message through a fresh orchestrator and renders the
// published updates, either as plain lines or in the replay TUI.
func runTurn(ctx context.Context, setup turnSetup) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus, err := newUpdateBus(ctx)
	if err != nil {
		return err
	}
	defer bus.Close()

	rt, err := wireRuntime(ctx, setup.config, setup.preflightPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := []orchestration.OrchestratorOption{
		orchestration.WithConfig(setup.config),
		orchestration.WithTransport(setup.transport),
		orchestration.WithObserver(bus.Observer()),
		orchestration.WithBaseContext(ctx),
	}
	o := orchestration.NewOrchestrator(append(opts, rt.options...)...)
	defer o.Close()

	driver := newTurnDriver(o, setup.decide)

	if setup.plain {
		printer := plainPrinter{out: setup.out}
		go bus.Run(driver.Observe, printer.Observe)

		err := driver.Run(ctx, setup.message)
		printConversation(setup.out, o.Messages())
		return err
	}

	program := tea.NewProgram(newReplayModel(), tea.WithContext(ctx), tea.WithOutput(setup.out))
	go bus.Run(driver.Observe, func(update status.Update) {
		program.Send(updateMsg(update))
	})
	go func() {
		program.Send(finishedMsg{err: driver.Run(ctx, setup.message)})
	}()

	final, err := program.Run()
	if err != nil {
		return err
	}
	if model, ok := final.(replayModel); ok && model.err != nil {
		return model.err
	}
	return nil
}
