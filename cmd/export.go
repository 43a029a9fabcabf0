package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pointsync/internal/export"
)

var (
	exportIn      string
	exportShp     string
	exportGeoJSON string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write resolved points as a shapefile or GeoJSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if exportShp == "" && exportGeoJSON == "" {
			return eris.New("export: --shp or --geojson is required")
		}

		f, err := export.LoadRecords(exportIn)
		if err != nil {
			return err
		}

		if exportShp != "" {
			n, err := export.Shapefile(exportShp, f.Records)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "shapefile: %d of %d points written to %s\n", n, len(f.Records), exportShp)
		}
		if exportGeoJSON != "" {
			if err := writeGeoJSON(exportGeoJSON, f.Records); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "geojson: written to %s\n", exportGeoJSON)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportIn, "in", "resolved.json", "records JSON written by resolve")
	exportCmd.Flags().StringVar(&exportShp, "shp", "", "shapefile to write")
	exportCmd.Flags().StringVar(&exportGeoJSON, "geojson", "", "GeoJSON file to write")
	rootCmd.AddCommand(exportCmd)
}
