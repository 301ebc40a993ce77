package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/exposure-cli/internal/exposure"
)

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "List configured raster layers",
	RunE: func(cmd *cobra.Command, args []string) error {
		type layerRow struct {
			Name        string  `json:"name"`
			Key         string  `json:"key"`
			ID          string  `json:"id"`
			ResolutionM float64 `json:"native_resolution_m"`
		}

		rows := make([]layerRow, 0, len(cfg.Layers))
		for _, l := range cfg.Layers {
			rows = append(rows, layerRow{
				Name:        l.Name,
				Key:         exposure.SanitizeLayerKey(l.Name),
				ID:          l.ID,
				ResolutionM: l.NativeResolutionM,
			})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	},
}

func init() {
	rootCmd.AddCommand(layersCmd)
}
