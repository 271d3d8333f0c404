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
	"fmt"
	"os"

	"github.com/Daskott/sheguard/colors"
	"github.com/Daskott/sheguard/utils"
	"github.com/Daskott/sheguard/version"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	config *viper.Viper

	isDevEnv bool

	warningLabel = colors.Yellow("Warning:")
)

// rootCmd represents the base command when called without any subcommands
var rootCmd *cobra.Command

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	cobra.OnInitialize(loadEnvFile)

	rootCmd = createRootCmd()
	rootCmd.Version = fmt.Sprintf("v%s", version.Version)
}

func createRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use: "sheguard",
		Short: `sheguard runs the SheGuard safety network backend.

Victims reach nearby admin-verified volunteers, and volunteers see
help requests around them. Accounts are verified by one-time codes
sent over email or SMS.`,
	}

	cmd.PersistentFlags().BoolVarP(&isDevEnv, "dev", "", false, "run in development mode")

	return cmd
}

// loadEnvFile loads variables from ./.env, if one exists, without overriding
// anything already set in the environment.
func loadEnvFile() {
	if !utils.FileExist(".env") {
		return
	}

	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, warningLabel, "unable to load .env:", err)
	}
}

func formattedError(format string, a ...interface{}) error {
	return fmt.Errorf(colors.Red(fmt.Sprintf(format, a...)))
}
