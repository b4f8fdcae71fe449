package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/normanking/cortexlipsync/internal/viseme"
)

func newTokensCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "tokens <ipa>...",
		Short:       "Show how a phonetic string is tokenized and mapped to shapes",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"skipConfig": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			resolver := viseme.NewResolver()

			for _, ipa := range args {
				tokens := resolver.Transcribe(ipa)
				fmt.Fprintf(out, "%s -> %s\n", ipa, viseme.Normalize(ipa))

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TOKEN\tKIND\tSHAPES")
				for _, tok := range tokens {
					shapes := make([]string, len(tok.Shapes))
					for i, s := range tok.Shapes {
						shapes[i] = s.String()
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", tok.Text, tok.Kind, strings.Join(shapes, ","))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
