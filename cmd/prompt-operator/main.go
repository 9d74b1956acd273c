// Command prompt-operator runs a Kubernetes controller that syncs PromptItem CRs into the prompt library.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/klejdi94/promptlib/config"
	"github.com/klejdi94/promptlib/k8s"
	v1 "github.com/klejdi94/promptlib/k8s/api/v1"
	"github.com/klejdi94/promptlib/library"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

func main() {
	cfgFile := flag.String("config", "", "promptlib config file (default ./promptlib.yaml)")
	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
	setupLog := ctrl.Log.WithName("setup")

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		setupLog.Error(err, "unable to load config")
		os.Exit(1)
	}

	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(v1.AddToScheme(scheme))

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{Scheme: scheme})
	if err != nil {
		setupLog.Error(err, "unable to create manager")
		os.Exit(1)
	}

	// Store metrics are served on the manager's metrics endpoint.
	cfg.Store.Metrics = true
	store, closeStore, err := config.OpenStore(context.Background(), cfg.Store, metrics.Registry)
	if err != nil {
		setupLog.Error(err, "unable to open store", "backend", cfg.Store.Backend)
		os.Exit(1)
	}
	defer closeStore()

	reconciler := &k8s.PromptItemReconciler{
		Client:  mgr.GetClient(),
		Scheme:  mgr.GetScheme(),
		Library: library.NewManager(store, library.WithLimits(cfg.Paging.ListLimit, cfg.Paging.SearchLimit)),
	}
	if err = reconciler.SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to set up controller")
		os.Exit(1)
	}
	setupLog.Info("starting manager", "backend", store.Kind())
	if err = mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "manager exited")
		os.Exit(1)
	}
}
