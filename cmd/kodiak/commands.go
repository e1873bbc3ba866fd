// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	jsonOutput bool
	sessionID  string
	pinModel   string
	searchK    int
	routeOnly  bool

	rootCmd = &cobra.Command{
		Use:   "kodiak",
		Short: "A personal AI assistant with adaptive model routing and resilient memory",
		Long: `Kodiak routes each query to the best available model for the
current system conditions, falls back down a chain of alternatives when
providers fail, and keeps conversation history in a primary store with a
local backup that keeps accepting writes during outages.`,
	}

	chatCmd = &cobra.Command{
		Use:   "chat [question]",
		Short: "Ask a question; the answer and the exchange are stored in session history",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runChat, // Defined in cmd_chat.go
	}

	searchCmd = &cobra.Command{
		Use:   "search [query]",
		Short: "Find past exchanges semantically similar to the query",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch, // Defined in cmd_search.go
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show resource conditions, circuit breakers, and model usage",
		RunE:  runStatus, // Defined in cmd_status.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the config file (default ~/.kodiak/kodiak.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON output")

	chatCmd.Flags().StringVarP(&sessionID, "session", "s", "default", "Session the exchange belongs to")
	chatCmd.Flags().StringVarP(&pinModel, "model", "m", "", "Pin routing to an explicit model ID")
	chatCmd.Flags().BoolVar(&routeOnly, "route-only", false, "Show the routing decision without invoking a model")

	searchCmd.Flags().StringVarP(&sessionID, "session", "s", "", "Restrict results to one session")
	searchCmd.Flags().IntVarP(&searchK, "k", "k", 5, "Maximum number of results")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statusCmd)
}
