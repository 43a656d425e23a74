// Package cli provides output helpers for the SchemaPilot command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(value string) (OutputFormat, error) {
	switch value {
	case "text", "":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", value)
	}
}

// WriteAnswer writes a generated answer to w in the given format. Text output
// always ends with a newline.
func WriteAnswer(w io.Writer, answer string, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{"answer": answer})
	default:
		if !strings.HasSuffix(answer, "\n") {
			answer += "\n"
		}
		_, err := io.WriteString(w, answer)
		return err
	}
}

// Status mirrors the server's /api/v1/status response.
type Status struct {
	Collection     string        `json:"collection"`
	Rows           int           `json:"rows"`
	Dimension      int           `json:"dimension"`
	DiskUsageBytes *int64        `json:"disk_usage_bytes,omitempty"`
	Config         *StatusConfig `json:"config,omitempty"`
}

// StatusConfig holds the configuration block of a status response.
type StatusConfig struct {
	StorageDriver     string  `json:"storage_driver,omitempty"`
	EmbeddingProvider string  `json:"embedding_provider,omitempty"`
	TopK              int     `json:"top_k,omitempty"`
	LLMMaxTokens      int     `json:"llm_max_tokens,omitempty"`
	LLMTemperature    float64 `json:"llm_temperature,omitempty"`
}

// WriteStatus writes a status report to w in the given format.
func WriteStatus(w io.Writer, status *Status, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	default:
		fmt.Fprintf(w, "collection:  %s\n", status.Collection)
		fmt.Fprintf(w, "rows:        %d   # table descriptions in the index\n", status.Rows)
		fmt.Fprintf(w, "dimension:   %d\n", status.Dimension)
		if status.DiskUsageBytes != nil {
			fmt.Fprintf(w, "disk_usage:  %d   # store file bytes on disk\n", *status.DiskUsageBytes)
		}
		if status.Config != nil {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "# configuration")
			if status.Config.StorageDriver != "" {
				fmt.Fprintf(w, "storage_driver:      %s\n", status.Config.StorageDriver)
			}
			if status.Config.EmbeddingProvider != "" {
				fmt.Fprintf(w, "embedding_provider:  %s\n", status.Config.EmbeddingProvider)
			}
			if status.Config.TopK > 0 {
				fmt.Fprintf(w, "top_k:               %d\n", status.Config.TopK)
			}
			if status.Config.LLMMaxTokens > 0 {
				fmt.Fprintf(w, "llm_max_tokens:      %d\n", status.Config.LLMMaxTokens)
			}
			if status.Config.LLMTemperature > 0 {
				fmt.Fprintf(w, "llm_temperature:     %.2f\n", status.Config.LLMTemperature)
			}
		}
		return nil
	}
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
