// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/weft/pkg/kvstore"
	"github.com/teradata-labs/weft/pkg/sandbox"
)

func newKVStore() *kvstore.Store {
	return kvstore.New(sandbox.NewLocalFS(), kvstore.Options{
		Workspace:        cfg.Workspace,
		TTLOverrideHours: cfg.TTLOverrideHours,
		SeedInstructions: true,
		Logger:           logger,
	})
}

var statsCmd = &cobra.Command{
	Use:   "stats [scope]",
	Short: "Show cache usage and quota utilization",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope := ""
		if len(args) > 0 {
			scope = args[0]
		}
		stats, err := newKVStore().GetStats(cmd.Context(), scope)
		if err != nil {
			return err
		}
		rendered, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(rendered))
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune [scope]",
	Short: "Remove expired cache entries",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope := ""
		if len(args) > 0 {
			scope = args[0]
		}
		results, err := newKVStore().PruneExpired(cmd.Context(), scope)
		if err != nil {
			return err
		}
		for scopeName, count := range results {
			fmt.Printf("%s: %d pruned\n", scopeName, count)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list [scope]",
	Short: "List cached keys, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope := ""
		if len(args) > 0 {
			scope = args[0]
		}
		pattern, _ := cmd.Flags().GetString("pattern")
		infos, err := newKVStore().ListKeys(cmd.Context(), scope, kvstore.ListOptions{Pattern: pattern})
		if err != nil {
			return err
		}
		for _, info := range infos {
			fmt.Printf("%-12s  %-50s  %8dB  %s\n", info.Scope, info.Key, info.SizeBytes, info.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	listCmd.Flags().String("pattern", "", "regex applied to original keys")
	rootCmd.AddCommand(statsCmd, pruneCmd, listCmd)
}
