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
	"strings"

	"github.com/spf13/cobra"
)

// runSearch embeds the query and prints the most similar stored
// exchanges, newest first on score ties.
func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	matches, err := a.orch.SemanticSearch(ctx, sessionID, query, searchK)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(matches)
	}

	if len(matches) == 0 {
		fmt.Println("No matching exchanges found.")
		return nil
	}
	for i, m := range matches {
		fmt.Printf("%2d. [%.3f] %s  (%s)\n", i+1, m.Score,
			firstLine(m.Record.Text), m.Record.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 96
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
