package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yuya-takeyama/s3smart/internal/plan"
	"github.com/yuya-takeyama/s3smart/internal/worker"
	"github.com/yuya-takeyama/s3smart/pkg/transfer"
)

// TransferResult represents the actual execution results
type TransferResult struct {
	Files   []ResultFile  `json:"files"`
	Errors  []ErrorFile   `json:"errors"`
	Summary ResultSummary `json:"summary"`
}

type ResultFile struct {
	Action string `json:"action"` // "uploaded", "downloaded", "skipped"
	Source string `json:"source"`
	Target string `json:"target"`
	Bytes  int64  `json:"bytes"`
	Parts  int    `json:"parts"`
}

type ErrorFile struct {
	Action string `json:"action"` // "upload", "download"
	Source string `json:"source"`
	Target string `json:"target"`
	Error  string `json:"error"`
}

type ResultSummary struct {
	Uploaded   int `json:"uploaded"`
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

func buildResult(results []worker.Result) TransferResult {
	out := TransferResult{
		Files:  []ResultFile{},
		Errors: []ErrorFile{},
	}

	for _, r := range results {
		source, target := getAbsolutePath(r.Item.LocalPath), r.Item.Target().String()
		if r.Item.Action == plan.ActionDownload {
			source, target = target, source
		}

		switch r.Outcome.Status {
		case transfer.StatusFailed:
			out.Errors = append(out.Errors, ErrorFile{
				Action: string(r.Item.Action),
				Source: source,
				Target: target,
				Error:  r.Outcome.Err.Error(),
			})
			out.Summary.Failed++
		case transfer.StatusSkipped:
			out.Files = append(out.Files, ResultFile{Action: "skipped", Source: source, Target: target})
			out.Summary.Skipped++
		case transfer.StatusSucceeded:
			file := ResultFile{Source: source, Target: target, Bytes: r.Outcome.Bytes, Parts: r.Outcome.Parts}
			if r.Item.Action == plan.ActionDownload {
				file.Action = "downloaded"
				out.Summary.Downloaded++
			} else {
				file.Action = "uploaded"
				out.Summary.Uploaded++
			}
			out.Files = append(out.Files, file)
		}
	}
	return out
}

func writeResult(path string, result TransferResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

func getAbsolutePath(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path // fallback to original path
	}
	return absPath
}
