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
	"fmt"

	"github.com/spf13/cobra"
)

// runStatus prints the operational snapshot: resource conditions,
// breaker states, and per-model usage.
func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	status := a.orch.Status(ctx)

	if jsonOutput {
		return printJSON(status)
	}

	fmt.Printf("Resource bucket:  %s\n", status.Bucket)
	fmt.Printf("  CPU:            %.1f%%\n", status.Snapshot.CPUPercent)
	fmt.Printf("  Memory:         %.1f%% used (%d MB free)\n",
		status.Snapshot.MemPercent, status.Snapshot.MemAvailableMB)
	fmt.Printf("  Connectivity:   %v\n", status.Snapshot.Connectivity)
	fmt.Printf("  Local models:   %v\n", status.Snapshot.LocalInference)
	if status.Snapshot.Stale {
		fmt.Println("  (snapshot is stale; sampling is failing)")
	}

	vectorBackend := "weaviate (native)"
	if status.VectorDegraded {
		vectorBackend = "local brute-force (degraded)"
	}
	fmt.Printf("Vector backend:   %s\n", vectorBackend)

	fmt.Println("Circuit breakers:")
	if len(status.Breakers) == 0 {
		fmt.Println("  none registered yet")
	}
	for _, b := range status.Breakers {
		line := fmt.Sprintf("  %-16s %s", b.Name, b.State)
		if b.Failures > 0 {
			line += fmt.Sprintf("  (%d consecutive failures)", b.Failures)
		}
		fmt.Println(line)
	}

	fmt.Println("Model usage:")
	if len(status.Usage) == 0 {
		fmt.Println("  no routing decisions this run")
	}
	for _, u := range status.Usage {
		fmt.Printf("  %-24s %d\n", u.ModelID, u.Count)
	}
	return nil
}
