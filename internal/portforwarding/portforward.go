package portforwarding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"

	"kubelink/internal/stream"
	"kubelink/pkg/logging"
)

const subsystem = "PortForward"

// portPrefixLen is the size of the port number the server sends at the start
// of every channel.
const portPrefixLen = 2

// ErrMultiplePorts is returned when more than one port is requested in a
// single session.
var ErrMultiplePorts = errors.New("only one port per port-forward session is supported")

// Forwarder opens port-forward sessions to pods.
type Forwarder struct {
	transport *stream.Transport
}

// NewForwarder returns a forwarder dialing through transport.
func NewForwarder(transport *stream.Transport) *Forwarder {
	return &Forwarder{transport: transport}
}

// PortForward opens a session forwarding ports[0] of the pod. Data from the
// pod is written to output and error-channel messages to errOut; input, when
// set, is sent to the pod and its pending read is interrupted once the
// session ends. The returned connection closes when either side ends the
// session.
func (f *Forwarder) PortForward(ctx context.Context, namespace, pod string, ports []int, output, errOut io.Writer, input io.Reader) (*stream.Conn, error) {
	if len(ports) != 1 {
		if len(ports) == 0 {
			return nil, errors.New("a port is required")
		}
		return nil, ErrMultiplePorts
	}
	port := ports[0]
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}

	path, err := portForwardPath(namespace, pod, port)
	if err != nil {
		return nil, err
	}

	d := newDemuxer(output, errOut)
	logging.Debug(subsystem, "Opening port-forward to %s/%s:%d", namespace, pod, port)
	conn, err := f.transport.Connect(ctx, path, stream.ConnectOptions{}, d.dispatch)
	if err != nil {
		return nil, err
	}
	if input != nil {
		go func() {
			if err := stream.ForwardInput(ctx, conn, input, 0); err != nil {
				logging.Debug(subsystem, "Input forwarding to %s/%s:%d stopped: %v", namespace, pod, port, err)
			}
		}()
	}
	return conn, nil
}

func portForwardPath(namespace, pod string, port int) (string, error) {
	values, err := scheme.ParameterCodec.EncodeParameters(&corev1.PodPortForwardOptions{Ports: []int32{int32(port)}}, corev1.SchemeGroupVersion)
	if err != nil {
		return "", fmt.Errorf("encoding portforward parameters: %w", err)
	}
	u := url.URL{
		Path:     fmt.Sprintf("/api/v1/namespaces/%s/pods/%s/portforward", namespace, pod),
		RawQuery: values.Encode(),
	}
	return u.String(), nil
}

// demuxer strips the port prefix from each channel and routes channel 0 to
// the data writer and channel 1 to the error writer.
type demuxer struct {
	output    io.Writer
	errOut    io.Writer
	remaining map[stream.ChannelID]int
}

func newDemuxer(output, errOut io.Writer) *demuxer {
	return &demuxer{
		output:    output,
		errOut:    errOut,
		remaining: make(map[stream.ChannelID]int),
	}
}

func (d *demuxer) dispatch(ch stream.ChannelID, payload []byte) {
	n, seen := d.remaining[ch]
	if !seen {
		n = portPrefixLen
	}
	skip := min(n, len(payload))
	d.remaining[ch] = n - skip
	payload = payload[skip:]
	if len(payload) == 0 {
		return
	}

	switch ch {
	case 0:
		if d.output == nil {
			return
		}
		if _, err := d.output.Write(payload); err != nil {
			logging.Warn(subsystem, "Dropping forwarded data: %v", err)
		}
	case 1:
		if d.errOut == nil {
			logging.Warn(subsystem, "Remote error: %s", payload)
			return
		}
		if _, err := d.errOut.Write(payload); err != nil {
			logging.Warn(subsystem, "Dropping remote error: %v", err)
		}
	default:
		logging.Warn(subsystem, "%v", &stream.UnexpectedChannelError{Channel: ch})
	}
}
