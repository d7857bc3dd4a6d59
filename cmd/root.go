package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"kubelink/internal/app"
)

// Persistent flags shared by every command that talks to a cluster.
var (
	kubeconfigPath string
	contextName    string
	namespace      string
	logLevel       string
	logFile        string
)

// For mocking in tests
var newApplication = app.NewApplication

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kubelink",
	Short: "Exec, attach and port-forward against Kubernetes pods",
	Long: `kubelink authenticates against a Kubernetes cluster using your kubeconfig,
refreshing expired auth-provider tokens on demand, and opens interactive
streams to pods: running commands, attaching to containers and forwarding
local ports.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. invalid arguments, failed connections)
	SilenceUsage: true,
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "kubelink version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(exitCode(err))
	}
}

// loadApplication builds the session from the persistent flags. Callers
// must call Shutdown on the result.
func loadApplication() (*app.Application, error) {
	return newApplication(app.NewConfig(kubeconfigPath, contextName, namespace, logLevel, logFile))
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&kubeconfigPath, "kubeconfig", "", "Path to the kubeconfig file (default $KUBECONFIG or ~/.kube/config)")
	flags.StringVar(&contextName, "context", "", "Kubeconfig context to use")
	flags.StringVarP(&namespace, "namespace", "n", "", "Namespace of the pod")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.StringVar(&logFile, "log-file", "", "Write logs to a rotated file instead of stderr")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newExecCmd())
	rootCmd.AddCommand(newAttachCmd())
	rootCmd.AddCommand(newPortForwardCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newTokenCmd())
}
