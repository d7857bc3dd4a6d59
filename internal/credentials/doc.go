// Package credentials resolves the active kubeconfig context into the
// material transports need: PEM TLS data, a skip-verify flag, basic auth and
// an Authorization header.
//
// Bearer tokens come from the user's token field or from an auth-provider
// config. When the auth-provider token has expired and a cmd-path is set, the
// command is run with its cmd-args, its stdout is decoded as JSON and the
// token-key query picks the new token out of it. At most one refresh per user
// is in flight; the refreshed config is swapped in as a new snapshot.
package credentials
