// Package kubeconfig holds the credential store of kubelink: the named
// cluster, user and context records of a kubeconfig plus the name of the
// active context.
//
// # Loading
//
// A Store is built exactly once from one Source:
//
//   - FileSource / StringSource: a kubeconfig document (apiVersion v1),
//     validated strictly. The first missing required field aborts the load
//     with a FieldMissingError such as "clusters[1].cluster.server is missing".
//   - OptionsSource: typed records supplied by the caller.
//   - ClusterAndUserSource: one cluster and one user bound by the context
//     "loaded-context".
//   - InClusterSource: the pod's service account, using
//     KUBERNETES_SERVICE_HOST/PORT and the token and CA under
//     /var/run/secrets/kubernetes.io/serviceaccount.
//   - DefaultSource: $KUBECONFIG, then $HOME/.kube/config, then the service
//     account, then an unauthenticated http://localhost:8080.
//
// # Lookups
//
// All name lookups go through FindObject, which returns the first match.
// References from a context to its cluster and user are resolved lazily, so
// a dangling reference is only reported when that context is used.
//
// # Auth providers
//
// A User's AuthProvider holds the only long-lived mutable state: its config
// snapshot is replaced when the credentials package refreshes a token.
package kubeconfig
