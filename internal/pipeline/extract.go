package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"receipts/internal"
)

type ExtractService struct {
	source    TextSource
	extractor *Extractor
	log       *slog.Logger
}

// NewExtractService reads documents through source. A nil extractor uses the
// default vendor table.
func NewExtractService(source TextSource, extractor *Extractor, log *slog.Logger) *ExtractService {
	if extractor == nil {
		extractor = defaultExtractor
	}
	if log == nil {
		log = slog.Default()
	}
	return &ExtractService{source: source, extractor: extractor, log: log}
}

// Run extracts one record per path into sink. Unreadable and unrecognised
// documents are reported and skipped; only a failing sink aborts the run.
func (s *ExtractService) Run(paths []string, sink RecordSink, report *Report) error {
	for _, path := range paths {
		out := internal.Outcome{File: path}

		pages, err := s.source.ExtractText(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				err = fmt.Errorf("file not found: %s", path)
			}
			report.Fail(out, err)
			s.log.Error("cannot read document", "file", path, "err", err)
			continue
		}

		text := JoinPages(pages)
		rec, err := s.extractor.Extract(text)
		if err != nil {
			report.Fail(out, err)
			s.log.Error("cannot extract fields", "file", path, "err", err)
			s.log.Debug("document text", "file", path, "text", text)
			continue
		}

		if err := sink.Write(path, rec); err != nil {
			return fmt.Errorf("write record for %s: %w", path, err)
		}
		out.Handler = rec.Supplier
		out.Status = internal.OutcomeExtracted
		report.Add(out)
		s.log.Debug("extracted", "file", path, "supplier", rec.Supplier, "amount", rec.Amount, "date", rec.Date)
	}
	return nil
}
