package portforwarding

import "kubelink/internal/config"

// PortForwardStatusDetail defines specific status details from the port-forwarding operation.
type PortForwardStatusDetail string

const (
	// StatusDetailUnknown is for when the status is not recognized.
	StatusDetailUnknown PortForwardStatusDetail = "Unknown"
	// StatusDetailInitializing indicates the port-forward is being set up.
	StatusDetailInitializing PortForwardStatusDetail = "Initializing"
	// StatusDetailForwardingActive indicates that the local listener is accepting connections.
	StatusDetailForwardingActive PortForwardStatusDetail = "ForwardingActive"
	// StatusDetailStopped indicates the port-forward has been stopped.
	StatusDetailStopped PortForwardStatusDetail = "Stopped"
	// StatusDetailFailed indicates a failure in the port-forwarding operation.
	// operationErr in the updateFn will contain more details.
	StatusDetailFailed PortForwardStatusDetail = "Failed"
)

// PortForwardUpdateFunc is the function signature for callbacks that receive updates
// from the port forwarding process: label, statusDetail, isOpReady, operationErr.
type PortForwardUpdateFunc func(serviceLabel string, statusDetail PortForwardStatusDetail, isOpReady bool, operationErr error)

// ManagedPortForwardInfo holds information about a managed port-forward,
// typically returned after initiating it.
type ManagedPortForwardInfo struct {
	Config       config.PortForwardDefinition
	LocalAddr    string        // Address the listener is bound to
	StopChan     chan struct{} // Close to stop this port-forward
	InitialError error         // Any error that occurred during startup
}
