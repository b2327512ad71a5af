package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/whisper-darkly/sticky-fetch/format"
	"github.com/whisper-darkly/sticky-fetch/recorder"
	"github.com/whisper-darkly/sticky-fetch/stream"
)

func newInfoCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "info <id>",
		Short: "List the renditions of a media item, best first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := a.resolver.Resolve(cmd.Context(), args[0], stream.Options{})
			if err != nil {
				a.log.Error("%v", err)
				return &exitError{code: exitCode(err)}
			}
			selected := 0
			if r, err := format.Select(meta.Renditions, a.cfg.Policy()); err == nil {
				selected = r.Itag
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				ranked := *meta
				ranked.Renditions = format.Sorted(meta.Renditions)
				return enc.Encode(ranked)
			}
			return printInfo(cmd.OutOrStdout(), meta, selected)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the metadata as JSON")
	return cmd
}

// exitCode maps an error onto the process exit codes.
func exitCode(err error) int {
	switch stream.Classify(err) {
	case stream.Ended:
		return recorder.ExitNotFound
	case stream.Blocked:
		return recorder.ExitBlocked
	}
	return recorder.ExitError
}

func printInfo(w io.Writer, meta *format.Metadata, selected int) error {
	if meta.Title != "" {
		fmt.Fprintf(w, "%s\n", meta.Title)
	}
	if meta.Author != "" {
		fmt.Fprintf(w, "by %s\n", meta.Author)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tITAG\tCONTAINER\tQUALITY\tVIDEO\tAUDIO\tPROTOCOL")
	for _, r := range format.Sorted(meta.Renditions) {
		mark := ""
		if r.Itag == selected {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			mark, r.Itag, dash(r.Container), dash(quality(r)),
			dash(join(r.Encoding, r.Bitrate, "Mbps")),
			dash(join(r.AudioEncoding, bitrate(r.AudioBitrate), "kbps")),
			dash(r.Protocol))
	}
	return tw.Flush()
}

func quality(r format.Rendition) string {
	if r.Resolution != "" {
		return r.Resolution
	}
	return r.Quality
}

func bitrate(kbps int) string {
	if kbps <= 0 {
		return ""
	}
	return strconv.Itoa(kbps)
}

func join(name, rate, unit string) string {
	if rate == "" {
		return name
	}
	return name + " " + rate + unit
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
