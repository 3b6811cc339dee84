// Package main provides the NornicDB CLI entry point.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/nornicdb/pkg/boltdriver"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nornicdb",
		Short: "NornicDB - High-Performance Graph Database for LLM Agents",
		Long: `NornicDB is a purpose-built graph database written in Go,
designed for AI agent memory with Neo4j Bolt/Cypher compatibility.

Features:
  • Neo4j Bolt protocol compatibility
  • Cypher query language support
  • Natural memory decay (Episodic/Semantic/Procedural)
  • Automatic relationship inference
  • Built-in vector search`,
	}

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("NornicDB v%s (%s)\n", version, commit)
		},
	})

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start NornicDB server",
		Long:  "Start NornicDB server with Bolt protocol and HTTP API endpoints",
		RunE:  runServe,
	}
	serveCmd.Flags().Int("bolt-port", 7687, "Bolt protocol port (Neo4j compatible)")
	serveCmd.Flags().Int("http-port", 7474, "HTTP API port")
	serveCmd.Flags().String("data-dir", "./data", "Data directory")
	serveCmd.Flags().String("config", "", "Config file path")
	rootCmd.AddCommand(serveCmd)

	// Init command
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new NornicDB database",
		RunE:  runInit,
	}
	initCmd.Flags().String("data-dir", "./data", "Data directory")
	rootCmd.AddCommand(initCmd)

	// Import command
	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import data from Neo4j dump or Cypher file",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	importCmd.Flags().String("format", "cypher", "Import format: cypher, neo4j-dump, json")
	rootCmd.AddCommand(importCmd)

	// Shell command (interactive Cypher REPL)
	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive Cypher shell",
		RunE:  runShell,
	}
	shellCmd.Flags().String("uri", "bolt://localhost:7687", "NornicDB URI")
	shellCmd.Flags().String("user", "", "Username")
	shellCmd.Flags().String("password", "", "Password")
	rootCmd.AddCommand(shellCmd)

	// Query command (run a single Cypher statement and exit)
	queryCmd := &cobra.Command{
		Use:   "query [cypher]",
		Short: "Run a single Cypher statement against a NornicDB server",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}
	queryCmd.Flags().String("uri", "bolt://localhost:7687", "NornicDB URI")
	queryCmd.Flags().String("user", "", "Username")
	queryCmd.Flags().String("password", "", "Password")
	queryCmd.Flags().String("database", "", "Database name")
	rootCmd.AddCommand(queryCmd)

	// Ping command (verify connectivity)
	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Verify connectivity to a NornicDB server",
		RunE:  runPing,
	}
	pingCmd.Flags().String("uri", "bolt://localhost:7687", "NornicDB URI")
	pingCmd.Flags().String("user", "", "Username")
	pingCmd.Flags().String("password", "", "Password")
	rootCmd.AddCommand(pingCmd)

	// Decay command (manual decay operations)
	decayCmd := &cobra.Command{
		Use:   "decay",
		Short: "Memory decay operations",
	}
	decayCmd.AddCommand(&cobra.Command{
		Use:   "recalculate",
		Short: "Recalculate all decay scores",
		RunE:  runDecayRecalculate,
	})
	decayCmd.AddCommand(&cobra.Command{
		Use:   "archive",
		Short: "Archive low-score memories",
		RunE:  runDecayArchive,
	})
	decayCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show decay statistics",
		RunE:  runDecayStats,
	})
	rootCmd.AddCommand(decayCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	boltPort, _ := cmd.Flags().GetInt("bolt-port")
	httpPort, _ := cmd.Flags().GetInt("http-port")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	fmt.Printf("Starting NornicDB v%s\n", version)
	fmt.Printf("  Data directory: %s\n", dataDir)
	fmt.Printf("  Bolt protocol:  bolt://localhost:%d\n", boltPort)
	fmt.Printf("  HTTP API:       http://localhost:%d\n", httpPort)
	fmt.Println()

	// TODO: Initialize and start server
	// server := nornicdb.NewServer(config)
	// return server.ListenAndServe()

	fmt.Println("Server implementation coming soon...")
	select {} // Block forever for now
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	fmt.Printf("Initializing NornicDB database in %s\n", dataDir)

	// TODO: Create data directory structure
	// db, err := nornicdb.Open(dataDir, nornicdb.DefaultConfig())

	fmt.Println("Database initialized successfully")
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	file := args[0]
	format, _ := cmd.Flags().GetString("format")
	fmt.Printf("Importing %s (format: %s)\n", file, format)

	// TODO: Implement import
	return nil
}

func dialFromFlags(cmd *cobra.Command) (*boltdriver.Driver, error) {
	uri, _ := cmd.Flags().GetString("uri")
	user, _ := cmd.Flags().GetString("user")
	password, _ := cmd.Flags().GetString("password")

	auth := boltdriver.NoAuth()
	if user != "" {
		auth = boltdriver.BasicAuth(user, password, "")
	}
	return boltdriver.NewDriver(uri, auth, boltdriver.WithUserAgent(fmt.Sprintf("nornicdb-cli/%s", version)))
}

func runShell(cmd *cobra.Command, args []string) error {
	uri, _ := cmd.Flags().GetString("uri")
	fmt.Printf("Connecting to %s...\n", uri)

	driver, err := dialFromFlags(cmd)
	if err != nil {
		return fmt.Errorf("building driver: %w", err)
	}
	defer driver.Close()

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", uri, err)
	}

	session, err := driver.NewSession(boltdriver.SessionConfig{})
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	defer session.Close(ctx)

	fmt.Println("Connected. Type 'exit' or Ctrl+D to quit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("nornicdb> ")
		if !scanner.Scan() {
			fmt.Println()
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := runAndPrint(ctx, session, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	database, _ := cmd.Flags().GetString("database")

	driver, err := dialFromFlags(cmd)
	if err != nil {
		return fmt.Errorf("building driver: %w", err)
	}
	defer driver.Close()

	ctx := context.Background()
	session, err := driver.NewSession(boltdriver.SessionConfig{Database: database})
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	defer session.Close(ctx)

	return runAndPrint(ctx, session, args[0])
}

func runAndPrint(ctx context.Context, session *boltdriver.Session, cypher string) error {
	records, _, err := session.RunConsume(ctx, cypher, nil)
	if err != nil {
		return err
	}
	for _, r := range records {
		parts := make([]string, len(r.Keys))
		for i, k := range r.Keys {
			parts[i] = fmt.Sprintf("%s=%v", k, r.Values[i])
		}
		fmt.Println(strings.Join(parts, ", "))
	}
	fmt.Printf("(%d row(s))\n", len(records))
	return nil
}

func runPing(cmd *cobra.Command, args []string) error {
	uri, _ := cmd.Flags().GetString("uri")

	driver, err := dialFromFlags(cmd)
	if err != nil {
		return fmt.Errorf("building driver: %w", err)
	}
	defer driver.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("%s is unreachable: %w", uri, err)
	}
	fmt.Printf("%s is reachable\n", uri)
	return nil
}

func runDecayRecalculate(cmd *cobra.Command, args []string) error {
	fmt.Println("Recalculating decay scores...")
	// TODO: Implement
	return nil
}

func runDecayArchive(cmd *cobra.Command, args []string) error {
	fmt.Println("Archiving low-score memories...")
	// TODO: Implement
	return nil
}

func runDecayStats(cmd *cobra.Command, args []string) error {
	fmt.Println("Decay Statistics:")
	fmt.Println("  Total memories: 0")
	fmt.Println("  Episodic: 0 (avg decay: 0.00)")
	fmt.Println("  Semantic: 0 (avg decay: 0.00)")
	fmt.Println("  Procedural: 0 (avg decay: 0.00)")
	fmt.Println("  Archived: 0")
	// TODO: Implement
	return nil
}
