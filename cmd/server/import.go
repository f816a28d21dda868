package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voicecollect/pkg/logger"
	"voicecollect/pkg/model"
)

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Replace the prompt queue with the prompts in a JSON file",
	Long:  `Reads either a JSON array of {"id","text"} objects or an object with a "texts" array and replaces the whole prompt queue with it.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		list, err := readPrompts(args[0])
		if err != nil {
			return err
		}

		d := newDeps(cfg)
		defer d.Close()

		queue, err := d.queue(cmd.Context())
		if err != nil {
			return err
		}
		if err := queue.ReplaceAll(cmd.Context(), list); err != nil {
			return err
		}

		logger.Info("Prompts imported", zap.String("file", args[0]), zap.Int("count", len(list)))
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d prompts\n", len(list))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func readPrompts(path string) ([]model.Prompt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	data = bytes.TrimSpace(data)

	var list []model.Prompt
	if bytes.HasPrefix(data, []byte("[")) {
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return list, nil
	}

	var wrapped struct {
		Texts []model.Prompt `json:"texts"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if wrapped.Texts == nil {
		return nil, fmt.Errorf("%s: expected an array of prompts or an object with a texts field", path)
	}
	return wrapped.Texts, nil
}
