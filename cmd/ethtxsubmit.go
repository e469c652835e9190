// Copyright 2021 Kaleido

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/icza/dyno"
	"github.com/kaleido-io/ethtxsubmit/internal/contention"
	"github.com/kaleido-io/ethtxsubmit/internal/errors"
	"github.com/kaleido-io/ethtxsubmit/internal/eth"
	"github.com/kaleido-io/ethtxsubmit/internal/kafka"
	"github.com/kaleido-io/ethtxsubmit/internal/keys"
	"github.com/kaleido-io/ethtxsubmit/internal/reconcile"
	"github.com/kaleido-io/ethtxsubmit/internal/retry"
	"github.com/kaleido-io/ethtxsubmit/internal/telemetry"
	"github.com/kaleido-io/ethtxsubmit/internal/txmgr"
	"github.com/kaleido-io/ethtxsubmit/internal/txstore"
	"github.com/kaleido-io/ethtxsubmit/internal/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	_ "net/http/pprof"
)

// TransactionsConf configures how transactions are sent and tracked to completion
type TransactionsConf struct {
	eth.LedgerConf
	txmgr.Conf
	EagerSend bool `json:"eagerSend,omitempty"`
}

// ServerConfig is the parent YAML structure that configures the submission engine
type ServerConfig struct {
	eth.RPCConf
	ChainID      int64            `json:"chainID,omitempty"`
	Retry        retry.Conf       `json:"retry"`
	Contention   contention.Conf  `json:"contention"`
	Transactions TransactionsConf `json:"transactions"`
	Reconcile    reconcile.Conf   `json:"reconcile"`
	Keys         keys.Conf        `json:"keys"`
	Store        txstore.Conf     `json:"store"`
	Kafka        kafka.Conf       `json:"kafka"`
	Tracing      telemetry.Conf   `json:"tracing"`
}

func initLogging(debugLevel int) {
	log.SetFormatter(&prefixed.TextFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		DisableSorting:  true,
		ForceFormatting: true,
		FullTimestamp:   true,
	})
	switch debugLevel {
	case 0:
		log.SetLevel(log.ErrorLevel)
	case 1:
		log.SetLevel(log.InfoLevel)
	case 2:
		log.SetLevel(log.DebugLevel)
	case 3:
		log.SetLevel(log.TraceLevel)
	default:
		log.SetLevel(log.DebugLevel)
	}
	log.Debugf("Log level set to %d", debugLevel)
}

var rootConfig struct {
	DebugLevel int
	DebugPort  int
	PrintYAML  bool
}

var serverCmdConfig struct {
	Filename string
	Type     string
	RPC      eth.RPCConf
	Kafka    kafka.Conf
}

// metricsRegistry is served on the debug port
var metricsRegistry = prometheus.NewRegistry()

var rootCmd = &cobra.Command{
	Use:   "ethtxsubmit [sub]",
	Short: "Transaction submission and reconciliation for Ethereum permissioned chains",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging(rootConfig.DebugLevel)

		if rootConfig.DebugPort > 0 {
			go func() {
				log.Debugf("Debug HTTP endpoint listening on localhost:%d: %s", rootConfig.DebugPort, http.ListenAndServe(fmt.Sprintf("localhost:%d", rootConfig.DebugPort), nil))
			}()
		}
	},
}

func initServer() (serverCmd *cobra.Command) {
	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Runs the submission engine defined in a YAML config file",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			err = startServer()
			return
		},
		PreRunE: func(cmd *cobra.Command, args []string) (err error) {
			if serverCmdConfig.Filename == "" {
				err = errors.Errorf(errors.ConfigNoYAML)
				return
			}
			return
		},
	}
	defType := utils.GetenvOrDefaultLowerCase("ETHTXSUBMIT_CONFIGFILE_TYPE", "yaml")
	serverCmd.Flags().StringVarP(&serverCmdConfig.Filename, "filename", "f", os.Getenv("ETHTXSUBMIT_CONFIGFILE"), "Configuration file")
	serverCmd.Flags().StringVarP(&serverCmdConfig.Type, "type", "t", defType, "File type (json/yaml)")
	eth.CobraInitRPC(serverCmd, &serverCmdConfig.RPC)
	kafka.CobraInit(serverCmd, &serverCmdConfig.Kafka)
	return
}

func readServerConfig() (serverConfig *ServerConfig, err error) {
	confBytes, err := os.ReadFile(serverCmdConfig.Filename)
	if err != nil {
		err = errors.Errorf(errors.ConfigFileReadFailed, serverCmdConfig.Filename, err)
		return
	}
	if strings.ToLower(serverCmdConfig.Type) == "yaml" {
		// Convert to JSON first
		yamlGenericPayload := make(map[interface{}]interface{})
		if err = yaml.Unmarshal(confBytes, &yamlGenericPayload); err != nil {
			err = errors.Errorf(errors.ConfigYAMLParseFile, serverCmdConfig.Filename, err)
			return
		}
		genericPayload := dyno.ConvertMapI2MapS(yamlGenericPayload).(map[string]interface{})
		// Reseialize back to JSON
		confBytes, _ = json.Marshal(&genericPayload)
	}
	serverConfig = &ServerConfig{}
	err = json.Unmarshal(confBytes, serverConfig)
	if err != nil {
		err = errors.Errorf(errors.ConfigYAMLPostParseFile, serverCmdConfig.Filename, err)
		return
	}

	// Flags and env vars fill in connection details the file leaves out
	if serverConfig.RPC.URL == "" {
		serverConfig.RPC.URL = serverCmdConfig.RPC.RPC.URL
	}
	if !serverConfig.Kafka.Enabled() && serverCmdConfig.Kafka.Enabled() {
		serverConfig.Kafka = serverCmdConfig.Kafka
	}
	return
}

func startServer() (err error) {

	serverConfig, err := readServerConfig()
	if err != nil {
		return
	}

	if rootConfig.PrintYAML {
		b, err := utils.MarshalToYAML(&serverConfig)
		print("# Full YAML configuration processed from supplied file\n" + string(b))
		return err
	}

	return runServer(serverConfig)
}

func init() {
	metricsRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	http.Handle("/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))

	rootCmd.PersistentFlags().IntVarP(&rootConfig.DebugLevel, "debug", "d", 1, "0=error, 1=info, 2=debug, 3=trace")
	rootCmd.PersistentFlags().IntVarP(&rootConfig.DebugPort, "debugPort", "Z", 6060, "Port for pprof and metrics HTTP endpoints (localhost only)")
	rootCmd.PersistentFlags().BoolVarP(&rootConfig.PrintYAML, "print-yaml-confg", "Y", false, "Print YAML config snippet and exit")

	serverCmd := initServer()
	rootCmd.AddCommand(serverCmd)
}

// Execute is called by the main method of the package
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		return 1
	}
	return 0
}
