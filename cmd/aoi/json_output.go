package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// writeJSON prints v as indented JSON for scripting. Serials and notice text
// are printed verbatim, without HTML escaping.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
