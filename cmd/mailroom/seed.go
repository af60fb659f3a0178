package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/halcyoncap/mailroom/internal/catalog"
)

var seedCmd = &cobra.Command{
	Use:   "seed <assets.json>",
	Short: "Seed the asset catalog from a JSON file",
	Long: `Seed loads assets and sender mappings into the catalog.

The file format:

  {
    "assets": [
      {"deal_name": "Project Meridian", "type": "real_estate",
       "alt_identifiers": ["PM-IV"]}
    ],
    "sender_mappings": [
      {"sender_email": "reports@meridian.com",
       "deal_name": "Project Meridian", "confidence": 0.9}
    ]
  }`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

type seedFile struct {
	Assets         []*catalog.Asset `json:"assets"`
	SenderMappings []seedMapping    `json:"sender_mappings"`
}

type seedMapping struct {
	SenderEmail string  `json:"sender_email"`
	DealName    string  `json:"deal_name"`
	Confidence  float64 `json:"confidence"`
}

func runSeed(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}

	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parsing seed file: %w", err)
	}

	c, err := buildContainer(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := cmd.Context()
	byDealName := make(map[string]string, len(seed.Assets))
	for _, asset := range seed.Assets {
		if err := c.Registry.AddAsset(ctx, asset); err != nil {
			return fmt.Errorf("adding asset %q: %w", asset.DealName, err)
		}
		byDealName[asset.DealName] = asset.ID
	}

	for _, m := range seed.SenderMappings {
		assetID, ok := byDealName[m.DealName]
		if !ok {
			return fmt.Errorf("sender mapping %q references unknown deal %q", m.SenderEmail, m.DealName)
		}
		if _, err := c.Registry.UpsertSenderMapping(ctx, m.SenderEmail, assetID, m.Confidence); err != nil {
			return fmt.Errorf("adding sender mapping %q: %w", m.SenderEmail, err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d assets and %d sender mappings\n",
		len(seed.Assets), len(seed.SenderMappings))
	return nil
}
