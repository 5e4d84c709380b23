package main

import (
	"flag"
	"fmt"
	"os"

	"receipts/internal/logger"
	"receipts/internal/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("receipt-extract", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	xlsxPath := fs.String("xlsx", "", "also write the records to this spreadsheet")
	var help bool
	fs.BoolVar(&help, "h", false, "show this help")
	fs.BoolVar(&help, "help", false, "show this help")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: receipt-extract [--xlsx out.xlsx] file.pdf [file.pdf ...]")
		fmt.Fprintln(os.Stderr, "prints supplier<TAB>amount<TAB>date for every recognised receipt")
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if help {
		fs.Usage()
		return 1
	}

	log := logger.Init(os.Getenv("LOG_LEVEL"))

	var sink pipeline.RecordSink = pipeline.NewTSVSink(os.Stdout)
	if *xlsxPath != "" {
		sink = pipeline.MultiSink{sink, pipeline.NewXLSXSink(*xlsxPath)}
	}

	report := pipeline.NewReport()
	svc := pipeline.NewExtractService(pipeline.PDFText{}, nil, log)
	must(svc.Run(fs.Args(), sink, report))
	must(sink.Close())

	report.Log(log)
	if report.HasFailures() {
		return 2
	}
	return 0
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
