package batch

import (
	"encoding/json"
	"os"
)

// ManifestEntry represents one photo in the output manifest.
type ManifestEntry struct {
	Name    string `json:"name"`
	Source  string `json:"source"`
	Image   string `json:"image,omitempty"`
	Points  int    `json:"points"`
	Visible int    `json:"visible"`
	Error   string `json:"error,omitempty"`
}

// WriteManifest writes manifest.json for a finished run.
func WriteManifest(path string, results []Result) error {
	entries := make([]ManifestEntry, len(results))
	for i, r := range results {
		entries[i] = ManifestEntry{
			Name:    r.Name,
			Source:  r.Source,
			Image:   r.Image,
			Points:  r.Points,
			Visible: r.Visible,
			Error:   r.Error,
		}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
