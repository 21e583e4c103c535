package main

import (
	"io"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func writeTextReport(w io.Writer, results []*Result) error {
	printer := message.NewPrinter(language.English)

	totalUtilization := 0.0
	for _, result := range results {
		returned := "yes"
		if !result.PagesReturned {
			returned = "NO"
		}

		_, err := printer.Fprintf(w, "%s\n", result.Name)
		if err != nil {
			return err
		}

		_, err = printer.Fprintf(w,
			"  ops %d (alloc %d, free %d, realloc %d) in %v\n"+
				"  peak payload %d bytes, peak mapped %d bytes, utilization %.1f%%\n"+
				"  map calls %d, unmap calls %d, all pages returned: %s\n",
			result.Ops, result.Allocs, result.Frees, result.Reallocs, result.Elapsed,
			result.PeakPayload, result.PeakMapped, result.Utilization*100,
			result.MapCalls, result.UnmapCalls, returned,
		)
		if err != nil {
			return err
		}

		totalUtilization += result.Utilization
	}

	if len(results) > 1 {
		_, err := printer.Fprintf(w, "average utilization over %d traces: %.1f%%\n", len(results), totalUtilization*100/float64(len(results)))
		if err != nil {
			return err
		}
	}

	return nil
}

func writeJSONReport(w io.Writer, results []*Result) error {
	writer := jwriter.NewWriter()

	arr := writer.Array()
	for _, result := range results {
		obj := arr.Object()
		obj.Name("Name").String(result.Name)
		obj.Name("Ops").Int(result.Ops)
		obj.Name("Allocs").Int(result.Allocs)
		obj.Name("Frees").Int(result.Frees)
		obj.Name("Reallocs").Int(result.Reallocs)
		obj.Name("PeakPayload").Int(result.PeakPayload)
		obj.Name("PeakMapped").Int(result.PeakMapped)
		obj.Name("Utilization").Float64(result.Utilization)
		obj.Name("MapCalls").Int(result.MapCalls)
		obj.Name("UnmapCalls").Int(result.UnmapCalls)
		obj.Name("PagesReturned").Bool(result.PagesReturned)
		obj.Name("ElapsedNanoseconds").Int(int(result.Elapsed.Nanoseconds()))
		obj.End()
	}
	arr.End()

	if err := writer.Error(); err != nil {
		return err
	}

	_, err := w.Write(append(writer.Bytes(), '\n'))
	return err
}
