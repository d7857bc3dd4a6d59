// Package portforwarding forwards pod ports over the channel stream protocol.
//
// A session carries a single port. Channel 0 is data and channel 1 is the
// error stream; the server starts every channel with the two-byte port
// number, which is stripped before delivery even when it arrives split
// across frames.
//
// # Managed Forwards
//
// StartAndManageIndividualPortForward binds a local listener and opens one
// session per accepted TCP connection, reporting state changes through a
// PortForwardUpdateFunc:
//
//	Initializing -> ForwardingActive -> Stopped
//	             \-> Failed
//
// Repeated reports of the same state are suppressed.
//
// # Usage Example
//
//	fwd := portforwarding.NewForwarder(stream.NewTransport(resolver))
//	info, err := fwd.StartAndManageIndividualPortForward(config.PortForwardDefinition{
//	    Name:       "grafana",
//	    Namespace:  "monitoring",
//	    Pod:        "grafana-0",
//	    LocalPort:  3000,
//	    RemotePort: 3000,
//	}, portforwarding.NewCLIUpdater(os.Stderr))
//	if err != nil {
//	    return err
//	}
//	defer close(info.StopChan)
package portforwarding
