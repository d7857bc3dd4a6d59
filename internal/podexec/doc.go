// Package podexec runs commands in, and attaches to, containers over the
// channel stream protocol. Channel 0 carries stdin, 1 stdout, 2 stderr,
// 3 the final metav1.Status and 4 terminal resize events.
package podexec
