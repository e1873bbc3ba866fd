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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kodiak/internal/orchestrator"
)

// runChat routes the question, invokes down the fallback chain, and
// prints the answer. With --route-only the decision is shown without
// spending tokens.
func runChat(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if routeOnly {
		decision, err := a.orch.Route(ctx, query, pinModel)
		if err != nil {
			return err
		}
		return printJSON(decision)
	}

	resp, err := a.orch.Ask(ctx, orchestrator.AskRequest{
		SessionID: sessionID,
		Query:     query,
		ModelID:   pinModel,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(resp)
	}

	if !resp.Result.Success {
		fmt.Println(resp.Result.UserMessage)
		return nil
	}
	fmt.Println(resp.Result.Text)
	fmt.Fprintf(os.Stderr, "\n[%s | intent=%s bucket=%s attempts=%d %s]\n",
		resp.Result.ModelID, resp.Decision.Intent, resp.Decision.Bucket,
		resp.Result.Attempts, resp.Result.Duration.Round(time.Millisecond))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
