// Copyright Contributors to the AgentRun project

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	agentrunv1alpha1 "github.com/agentrun-io/agentrun/api/v1alpha1"
	"github.com/agentrun-io/agentrun/internal/config"
	"github.com/agentrun-io/agentrun/internal/controller"
	"github.com/agentrun-io/agentrun/internal/template"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(agentrunv1alpha1.AddToScheme(scheme))

	rootCmd.AddCommand(controllerCmd)
}

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Start the AgentRun controller",
	Long: `Start the controller that reconciles CodeRun, DocsRun and
ScheduledDocsRun resources into Jobs, task-file bundles and workspaces.`,
	RunE: runController,
}

var (
	metricsAddr          string
	probeAddr            string
	enableLeaderElection bool
	configNamespace      string
)

func init() {
	controllerCmd.Flags().StringVar(&metricsAddr, "metrics-bind-address", ":8080",
		"The address the metric endpoint binds to.")
	controllerCmd.Flags().StringVar(&probeAddr, "health-probe-bind-address", ":8081",
		"The address the probe endpoint binds to.")
	controllerCmd.Flags().BoolVar(&enableLeaderElection, "leader-elect", false,
		"Enable leader election for controller manager.")
	controllerCmd.Flags().StringVar(&configNamespace, "config-namespace", "",
		"Namespace holding the controller ConfigMap; defaults to POD_NAMESPACE.")
}

func runController(cmd *cobra.Command, args []string) error {
	opts := zap.Options{
		Development: false,
	}
	opts.BindFlags(flag.CommandLine)
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	ctx := ctrl.SetupSignalHandler()

	cfg, err := loadControllerConfig(ctx)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		setupLog.Error(err, "refusing to start with invalid configuration")
		return err
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: metricsAddr},
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         enableLeaderElection,
		LeaderElectionID:       "agentrun.io",
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		return err
	}

	renderer := template.NewRenderer(cfg, ctrl.Log.WithName("renderer"))

	if err := (&controller.CodeRunReconciler{
		Client:   mgr.GetClient(),
		Scheme:   mgr.GetScheme(),
		Config:   cfg,
		Renderer: renderer,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "CodeRun")
		return err
	}
	if err := (&controller.DocsRunReconciler{
		Client:   mgr.GetClient(),
		Scheme:   mgr.GetScheme(),
		Config:   cfg,
		Renderer: renderer,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "DocsRun")
		return err
	}
	if err := (&controller.ScheduledDocsRunReconciler{
		Client: mgr.GetClient(),
		Scheme: mgr.GetScheme(),
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "ScheduledDocsRun")
		return err
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		return err
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		return err
	}

	setupLog.Info("starting manager", "image", cfg.Agent.Image.Ref())
	return mgr.Start(ctx)
}

// loadControllerConfig reads configuration from the well-known file path,
// falling back to the in-cluster ConfigMap, then to built-in defaults.
func loadControllerConfig(ctx context.Context) (*config.Config, error) {
	namespace := configNamespace
	if namespace == "" {
		namespace = os.Getenv("POD_NAMESPACE")
	}

	restCfg, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("getting kubeconfig: %w", err)
	}
	reader, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("creating config reader: %w", err)
	}
	return config.Load(ctx, reader, namespace)
}
