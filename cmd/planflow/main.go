package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/velkov/planflow/internal/cli"
	internal_http "github.com/velkov/planflow/internal/http"
	"github.com/velkov/planflow/internal/log"
	internal_storage "github.com/velkov/planflow/internal/storage"
)

var rootCmd = &cobra.Command{Use: "planflow"}

func main() {
	if err := godotenv.Load(); err != nil {
		log.GetLogger().Debugf("No .env file found: %v", err)
	}

	rootCmd.PersistentFlags().String("db", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the PlanFlow HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			dbConnStr, _ := cmd.Flags().GetString("db")
			port, _ := cmd.Flags().GetString("port")
			store, err := internal_storage.InitStore(dbConnStr)
			if err != nil {
				log.GetLogger().Errorf("Failed to initialize store: %v", err)
				os.Exit(1)
			}
			defer store.Close()
			if err := internal_http.StartServer(port, store); err != nil {
				log.GetLogger().Errorf("Server stopped: %v", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("port", "8080", "Port to listen on")
	rootCmd.AddCommand(serveCmd)

	cli.SetupCLI(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
