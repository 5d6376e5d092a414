package main

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"qibla-ng/internal/ui"
)

// runWatch runs the daemon with logs kept off the terminal and the compass
// UI in the foreground. Quitting the UI stops the daemon.
func runWatch(parent context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log, logs, err := setupLogging(cfg, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	rt, err := newLiveRuntime(ctx, cfg, log, logs)
	if err != nil {
		return err
	}
	defer rt.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- rt.Run(ctx) }()

	bc := rt.sess.Broadcaster()
	id, ch := bc.Subscribe(4)
	defer bc.Unsubscribe(id)

	p := tea.NewProgram(ui.New(ch, rt.sess.Reset), tea.WithAltScreen(), tea.WithContext(ctx))
	_, uiErr := p.Run()
	cancel()
	err = <-runErr

	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return uiErr
	}
	return err
}
