/*
Copyright © 2021 Edmond Cotterell

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
package cmd

import (
	"os"
	"path/filepath"
	"strings"

	devConfig "github.com/Daskott/sheguard/dev/config"
	"github.com/Daskott/sheguard/server"
	"github.com/Daskott/sheguard/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start a sheguard server",
	Long:  `The sheguard server handles OTP sign in, onboarding and the volunteer/victim proximity search`,
	Run: func(cmd *cobra.Command, args []string) {
		serverConfig, err := loadServerConfig()
		cobra.CheckErr(err)

		server.Start(serverConfig, isDevEnv)
	},
}

var serverConfigFile string

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverConfigFile, "sconfig", "", "config file for the server (required outside dev mode)")
}

func loadServerConfig() (*viper.Viper, error) {
	config = viper.New()

	if isDevEnv {
		path, err := devConfigFilePath()
		if err != nil {
			return nil, err
		}
		serverConfigFile = path
	}

	if serverConfigFile == "" {
		return nil, formattedError("must provide a server config with --sconfig")
	}

	config.SetConfigFile(serverConfigFile)

	// e.g. SQLITE_PASSPHRASE overrides sqlite.passPhrase
	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		return nil, formattedError("error reading server config file: %v", err)
	}

	return config, nil
}

// devConfigFilePath returns dev/config/server.yml, creating it from the
// default dev config the first time.
func devConfigFilePath() (string, error) {
	rootDir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	configDir := filepath.Join(rootDir, "dev", "config")
	if err := utils.CreateDirIfNotExist(configDir); err != nil {
		return "", err
	}

	configFilePath := filepath.Join(configDir, "server.yml")
	if !utils.FileExist(configFilePath) {
		if err := os.WriteFile(configFilePath, []byte(devConfig.SERVER_YML), 0600); err != nil {
			return "", err
		}
	}

	return configFilePath, nil
}
