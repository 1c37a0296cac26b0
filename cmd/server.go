package cmd

import (
	"MintFM/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动MintFM播放引擎",
	Long:  `启动播放会话与分账引擎的HTTP服务器，提供播放、统计与收益API`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
