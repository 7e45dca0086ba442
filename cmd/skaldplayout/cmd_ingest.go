/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/skald_playout/internal/catalog"
	"github.com/friendsincode/skald_playout/internal/models"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Admit an audio file into the catalog",
	Long:  "Measure the file, normalize it to the target loudness, and store it under its content hash. Re-ingesting identical bytes is a no-op that reports the existing asset.",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

var (
	ingestKind    string
	ingestInPlace bool
	ingestTitle   string
	ingestArtist  string
	ingestAlbum   string
	ingestEnergy  int
)

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestKind, "kind", "music", "Asset kind: music, break, bumper, bed, safety")
	ingestCmd.Flags().BoolVar(&ingestInPlace, "in-place", false, "Register the file where it sits without normalizing")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "Track title (defaults from the filename)")
	ingestCmd.Flags().StringVar(&ingestArtist, "artist", "", "Artist name")
	ingestCmd.Flags().StringVar(&ingestAlbum, "album", "", "Album name")
	ingestCmd.Flags().IntVar(&ingestEnergy, "energy", -1, "Energy level 0-100, omit for none")
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	kind, err := models.ParseKind(ingestKind)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.close()

	opts := catalog.IngestOptions{
		RegisterInPlace: ingestInPlace,
		Title:           ingestTitle,
		Artist:          ingestArtist,
		Album:           ingestAlbum,
	}
	if ingestEnergy >= 0 {
		opts.EnergyLevel = &ingestEnergy
	}

	asset, created, err := a.catalog.Ingest(cmd.Context(), args[0], kind, opts)
	if err != nil {
		return err
	}
	a.metrics.IngestsTotal.WithLabelValues(ingestOutcomeLabel(created)).Inc()

	verb := "already cataloged as"
	if created {
		verb = "cataloged as"
	}
	fmt.Printf("%s %s (%s, %s)\n", args[0], verb, asset.ID, asset.Kind)
	return nil
}

func ingestOutcomeLabel(created bool) string {
	if created {
		return "created"
	}
	return "deduplicated"
}
