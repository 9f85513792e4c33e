// Package report writes a run record to disk for CI consumption
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ternarybob/chatverify/internal/models"
)

// Supported formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ResolveFormat returns format, or the format implied by the path extension
// when format is empty
func ResolveFormat(path, format string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			format = FormatYAML
		default:
			format = FormatJSON
		}
	}
	switch format {
	case FormatJSON, FormatYAML:
		return format, nil
	case "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unsupported report format %q", format)
}

// Marshal renders rec in format
func Marshal(rec *models.RunRecord, format string) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(rec)
	case FormatJSON:
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
	return nil, fmt.Errorf("unsupported report format %q", format)
}

// Write renders rec and replaces the file at path
func Write(path, format string, rec *models.RunRecord) error {
	format, err := ResolveFormat(path, format)
	if err != nil {
		return err
	}
	data, err := Marshal(rec, format)
	if err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
