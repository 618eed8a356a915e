// Package serial provides the line-oriented serial connection to the panel.
//
// The panel speaks a text protocol: one command or event per line,
// terminated by LF (CRLF is accepted). Port opens the device with
// go.bug.st/serial, decodes each line with the configured character
// encoding and hands it to a callback. Writes append the terminator.
//
// # Reconnection
//
// Run keeps the device open for the lifetime of the bridge. Open or read
// failures close the device and retry with exponential backoff (1s ×1.5,
// capped at 30s). Lines written while the device is closed fail with
// ErrNotConnected; the bridge logs and drops them.
//
// # Usage
//
//	port, err := serial.New(cfg.Serial)
//	if err != nil {
//	    return err
//	}
//	port.SetOnLine(bridge.OnSerialLine)
//	go port.Run(ctx)
//	defer port.Close()
package serial
