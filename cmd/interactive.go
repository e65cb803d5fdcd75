package cmd

import (
	"context"
	"io"

	"golang.org/x/term"

	"github.com/woody-morgan/react-native-esbuild/internal/errors"
	"github.com/woody-morgan/react-native-esbuild/internal/logging"
	"github.com/woody-morgan/react-native-esbuild/internal/websocket"
)

// errQuit ends the start command after ctrl-c in raw mode, where the
// terminal no longer raises SIGINT.
var errQuit = errors.New("quit requested")

const (
	keyCtrlC = 0x03
	keyCtrlD = 0x04
)

type commandBroadcaster interface {
	Broadcast(command websocket.Command)
}

// runInteractive puts the terminal in raw mode and maps single key presses
// to control commands until ctx is done or the user quits.
func runInteractive(ctx context.Context, fd int, in io.Reader, b commandBroadcaster, logger logging.Logger) error {
	state, err := term.MakeRaw(fd)
	if err != nil {
		logger.Warn(ctx, err, "Interactive mode unavailable")
		return nil
	}
	defer func() { _ = term.Restore(fd, state) }()

	logger.Info(ctx, "Interactive mode enabled", "keys", "r: reload, d: open dev menu, ctrl+c: quit")

	keys := make(chan byte)
	go readKeys(in, keys)

	for {
		select {
		case <-ctx.Done():
			return nil
		case key, ok := <-keys:
			if !ok {
				return nil
			}
			if handleKey(ctx, key, b, logger) {
				return errQuit
			}
		}
	}
}

func readKeys(in io.Reader, keys chan<- byte) {
	defer close(keys)
	buf := make([]byte, 1)
	for {
		n, err := in.Read(buf)
		if err != nil {
			return
		}
		if n == 1 {
			keys <- buf[0]
		}
	}
}

// handleKey runs the action bound to key and reports whether the user asked
// to quit.
func handleKey(ctx context.Context, key byte, b commandBroadcaster, logger logging.Logger) bool {
	switch key {
	case 'r', 'R':
		logger.Info(ctx, "Reloading apps")
		b.Broadcast(websocket.CommandReload)
	case 'd', 'D':
		logger.Info(ctx, "Opening developer menu")
		b.Broadcast(websocket.CommandDevMenu)
	case keyCtrlC, keyCtrlD:
		return true
	}
	return false
}
