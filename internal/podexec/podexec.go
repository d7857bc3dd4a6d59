package podexec

import (
	"context"
	"fmt"
	"net/url"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/scheme"

	"kubelink/internal/stream"
	"kubelink/pkg/logging"
)

// Client opens exec and attach sessions.
type Client struct {
	transport *stream.Transport
}

// New returns a client dialing through transport.
func New(transport *stream.Transport) *Client {
	return &Client{transport: transport}
}

// Exec runs command in a container and streams its I/O.
func (c *Client) Exec(ctx context.Context, namespace, pod, container string, command []string, opts StreamOptions) (*Session, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("exec requires a command")
	}
	params := &corev1.PodExecOptions{
		Container: container,
		Command:   command,
		Stdin:     opts.Stdin != nil,
		Stdout:    opts.Stdout != nil,
		Stderr:    opts.Stderr != nil,
		TTY:       opts.TTY,
	}
	path, err := subresourcePath(namespace, pod, "exec", params)
	if err != nil {
		return nil, err
	}
	logging.Info(subsystem, "Executing %v in %s/%s (container %q)", command, namespace, pod, container)
	return c.open(ctx, path, opts)
}

// Attach connects to the main process of a running container.
func (c *Client) Attach(ctx context.Context, namespace, pod, container string, opts StreamOptions) (*Session, error) {
	params := &corev1.PodAttachOptions{
		Container: container,
		Stdin:     opts.Stdin != nil,
		Stdout:    opts.Stdout != nil,
		Stderr:    opts.Stderr != nil,
		TTY:       opts.TTY,
	}
	path, err := subresourcePath(namespace, pod, "attach", params)
	if err != nil {
		return nil, err
	}
	logging.Info(subsystem, "Attaching to %s/%s (container %q)", namespace, pod, container)
	return c.open(ctx, path, opts)
}

func (c *Client) open(ctx context.Context, path string, opts StreamOptions) (*Session, error) {
	s := newSession(opts)
	conn, err := c.transport.Connect(ctx, path, stream.ConnectOptions{}, s.dispatch)
	if err != nil {
		return nil, err
	}
	s.start(ctx, conn)
	return s, nil
}

// subresourcePath builds /api/v1/namespaces/{ns}/pods/{pod}/{sub}?{params}.
func subresourcePath(namespace, pod, sub string, params runtime.Object) (string, error) {
	values, err := scheme.ParameterCodec.EncodeParameters(params, corev1.SchemeGroupVersion)
	if err != nil {
		return "", fmt.Errorf("encoding %s parameters: %w", sub, err)
	}
	u := url.URL{
		Path:     fmt.Sprintf("/api/v1/namespaces/%s/pods/%s/%s", namespace, pod, sub),
		RawQuery: values.Encode(),
	}
	return u.String(), nil
}
