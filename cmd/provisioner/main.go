/*
Copyright 2019 The Provisioner Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// The provisioner binary runs the provisioning controller and its HTTP API.
package main

import (
	goflag "flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vrischmann/envconfig"
	"k8s.io/klog"

	"github.com/osbkit/provisioner/pkg/apis/services"
	"github.com/osbkit/provisioner/pkg/audit"
	"github.com/osbkit/provisioner/pkg/brokerapi"
	"github.com/osbkit/provisioner/pkg/brokerapi/openservicebroker"
	"github.com/osbkit/provisioner/pkg/catalog"
	"github.com/osbkit/provisioner/pkg/controller"
	"github.com/osbkit/provisioner/pkg/metrics"
	"github.com/osbkit/provisioner/pkg/registrar"
	"github.com/osbkit/provisioner/pkg/server"
	"github.com/osbkit/provisioner/pkg/storage"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provisioner",
		Short: "Service instance provisioning controller",
		Long: "provisioner orchestrates provisioning of service instances " +
			"against service brokers and serves the provisioning HTTP API.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	cmd.Flags().String("address", ":8080", "Address the HTTP API listens on")
	cmd.Flags().String("catalog", "", "Path to the catalog definition YAML file")
	cmd.Flags().Int("workers", 2, "Number of polling and mitigation workers")

	klogFlags := goflag.NewFlagSet("klog", goflag.ExitOnError)
	klog.InitFlags(klogFlags)
	cmd.Flags().AddGoFlagSet(klogFlags)
	cmd.Flags().SetNormalizeFunc(wordSepNormalizeFunc)

	viper.SetEnvPrefix("PROVISIONER")
	viper.AutomaticEnv()
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		panic(err)
	}

	return cmd
}

// wordSepNormalizeFunc lets flags be spelled with either dashes or
// underscores.
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.Replace(name, "_", "-", -1))
}

func run() error {
	var settings controller.Settings
	if err := envconfig.InitWithPrefix(&settings, "PROVISIONER"); err != nil {
		return errors.Wrap(err, "while loading controller settings")
	}

	var registrarConfig registrar.Config
	if err := envconfig.InitWithPrefix(&registrarConfig, "PROVISIONER_UAA"); err != nil {
		return errors.Wrap(err, "while loading registrar configuration")
	}

	store := storage.CreateInMemoryStorage()
	if path := viper.GetString("catalog"); path != "" {
		if err := catalog.LoadAndSeed(path, store); err != nil {
			return err
		}
		klog.Infof("Seeded catalog from %s", path)
	}

	brokerClientManager := controller.NewBrokerClientManager(func(b *services.ServiceBroker) brokerapi.BrokerClient {
		return openservicebroker.NewClientWithTimeout(b, settings.BrokerHTTPTimeout)
	})

	ctrl := controller.NewController(
		store,
		brokerClientManager,
		registrar.NewUAARegistrar(registrarConfig, store),
		audit.NewRecorder(),
		settings,
	)

	stopCh := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		klog.Info("Received shutdown signal")
		close(stopCh)
	}()

	go ctrl.Run(viper.GetInt("workers"), stopCh)

	m := http.NewServeMux()
	metrics.RegisterMetricsAndInstallHandler(m)
	m.Handle("/", server.CreateHandler(ctrl, store))

	address := viper.GetString("address")
	srv := &http.Server{Addr: address, Handler: m}
	go func() {
		<-stopCh
		srv.Close()
	}()

	klog.Infof("Serving provisioning API on %s", address)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "while serving HTTP")
	}
	return nil
}
