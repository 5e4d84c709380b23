package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"receipts/internal"
	"receipts/internal/connectors"
	"receipts/internal/render"
	"receipts/internal/storage"
)

// Journal persists outcomes of a run. *storage.DB implements it.
type Journal interface {
	RecordOutcome(runID string, o internal.Outcome) error
}

type FetchOptions struct {
	Mode internal.Mode
	// Since is the IMAP date put in front of every query; empty disables it.
	Since string
	// ExtraFilter is appended to every rule filter.
	ExtraFilter string
}

type FetchService struct {
	dispatcher *Dispatcher
	rules      []VendorRule
	renderer   render.Renderer
	store      *storage.FileStore
	opts       FetchOptions
	log        *slog.Logger

	journal Journal
	runID   string
	archive *storage.RawArchive
}

// NewFetchService searches every server with the filters of rules. Fetched
// messages are routed through the whole dispatcher table.
func NewFetchService(dispatcher *Dispatcher, rules []VendorRule, renderer render.Renderer, store *storage.FileStore, opts FetchOptions, log *slog.Logger) *FetchService {
	if log == nil {
		log = slog.Default()
	}
	return &FetchService{
		dispatcher: dispatcher,
		rules:      rules,
		renderer:   renderer,
		store:      store,
		opts:       opts,
		log:        log,
	}
}

// WithJournal records every outcome under runID as well.
func (s *FetchService) WithJournal(j Journal, runID string) *FetchService {
	s.journal = j
	s.runID = runID
	return s
}

// WithArchive keeps a copy of every fetched message in archive.
func (s *FetchService) WithArchive(archive *storage.RawArchive) *FetchService {
	s.archive = archive
	return s
}

// Query builds the full search expression for one selector.
func (s *FetchService) Query(sel Selector) string {
	since := ""
	if s.opts.Since != "" {
		since = "SINCE " + s.opts.Since
	}
	return connectors.BuildQuery(since, sel.Filter(), s.opts.ExtraFilter)
}

// RunServer processes one mail server. Per-message problems land in report;
// the returned error means the rest of this server's work was abandoned,
// either because the mail service or the renderer went away.
func (s *FetchService) RunServer(ctx context.Context, name string, src connectors.MailSource, report *Report) error {
	seen := map[string]bool{}
	for _, rule := range s.rules {
		for _, sel := range rule.Selectors {
			if err := ctx.Err(); err != nil {
				return err
			}
			query := s.Query(sel)
			ids, err := src.Search(query)
			if err != nil {
				return fmt.Errorf("%s: search %q: %w", name, query, err)
			}
			s.log.Info("searching", "server", name, "handler", rule.Label, "filter", query, "messages", len(ids))

			for _, id := range ids {
				if seen[id] {
					continue
				}
				seen[id] = true
				if err := s.processMessage(ctx, name, src, id, report); err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
			}
		}
	}
	return nil
}

func (s *FetchService) processMessage(ctx context.Context, server string, src connectors.MailSource, id string, report *Report) error {
	out := internal.Outcome{Server: server, MessageID: id}

	raw, err := src.Fetch(id)
	if err != nil {
		err = fmt.Errorf("fetch message %s: %w", id, err)
		s.fail(report, out, err)
		if connectors.IsConnectionError(err) {
			return err
		}
		return nil
	}
	if s.archive != nil {
		if path, err := s.archive.Store(raw); err != nil {
			s.log.Warn("raw archive write failed", "message", id, "err", err)
		} else {
			s.log.Debug("archived", "message", id, "path", path)
		}
	}
	msg, err := ParseMessage(raw)
	if err != nil {
		s.fail(report, out, fmt.Errorf("parse message %s: %w", id, err))
		return nil
	}
	if msg.MessageID != "" {
		out.MessageID = msg.MessageID
	}
	out.Subject = msg.Subject
	s.log.Info("message", "from", msg.From, "subject", msg.Subject)

	decision, err := s.dispatcher.Dispatch(msg)
	if err != nil {
		s.fail(report, out, err)
		return nil
	}
	out.Handler = decision.RuleID

	switch decision.Strategy {
	case internal.StrategySkip:
		out.Status = internal.OutcomeSkipped
		out.Detail = decision.Reason
		s.add(report, out)
		return nil
	case internal.StrategyRenderText, internal.StrategyRenderHTML:
		doc, err := buildDocument(msg, decision.Strategy)
		if err != nil {
			s.fail(report, out, fmt.Errorf("build document: %w", err))
			return nil
		}
		return s.renderDocument(ctx, msg, doc, out, report)
	case internal.StrategyAttachment, internal.StrategyAttachmentFiltered:
		s.saveAttachments(msg, ExtractAttachments(msg, decision.Strategy == internal.StrategyAttachmentFiltered), out, report)
		return nil
	default:
		s.fail(report, out, fmt.Errorf("unknown strategy %q", decision.Strategy))
		return nil
	}
}

// buildDocument falls back to the text body when an HTML message has no HTML part.
func buildDocument(msg internal.Message, strategy internal.Strategy) (string, error) {
	if strategy == internal.StrategyRenderHTML && msg.HTML != "" {
		return BuildHTMLDocument(msg)
	}
	return BuildTextDocument(msg)
}

func (s *FetchService) renderDocument(ctx context.Context, msg internal.Message, html string, out internal.Outcome, report *Report) error {
	name := DocumentName(msg, "")
	out.File = s.store.Path(name)
	if s.store.Exists(name) {
		out.Status = internal.OutcomeExists
		s.add(report, out)
		return nil
	}

	pdf, err := s.renderer.Render(ctx, html)
	if err != nil {
		s.fail(report, out, err)
		if errors.Is(err, render.ErrUnavailable) || ctx.Err() != nil {
			return err
		}
		return nil
	}
	if _, err := s.store.Write(name, pdf); err != nil {
		s.fail(report, out, err)
		return nil
	}
	out.Status = internal.OutcomeSaved
	s.add(report, out)
	return nil
}

func (s *FetchService) saveAttachments(msg internal.Message, atts []internal.Attachment, out internal.Outcome, report *Report) {
	if len(atts) == 0 {
		out.Status = internal.OutcomeSkipped
		out.Detail = fmt.Sprintf("no attachments in message: %s: %s", msg.From, msg.Subject)
		s.add(report, out)
		return
	}
	for i, att := range atts {
		fileName := att.FileName
		if fileName == "" {
			fileName = fmt.Sprintf("attachment_%d", i+1)
		}
		name := DocumentName(msg, fileName)
		o := out
		o.File = s.store.Path(name)
		if s.store.Exists(name) {
			o.Status = internal.OutcomeExists
			s.add(report, o)
			continue
		}
		if _, err := s.store.Write(name, att.Content); err != nil {
			s.fail(report, o, fmt.Errorf("unable to save data: %w", err))
			continue
		}
		o.Status = internal.OutcomeSaved
		s.add(report, o)
	}
}

func (s *FetchService) add(report *Report, o internal.Outcome) {
	report.Add(o)
	s.log.Info(o.Status, "handler", o.Handler, "file", o.File, "detail", o.Detail)
	s.journalOutcome(o)
}

func (s *FetchService) fail(report *Report, o internal.Outcome, err error) {
	o = report.Fail(o, err)
	s.log.Error(o.Status, "server", o.Server, "message", o.MessageID, "subject", o.Subject, "err", err)
	s.journalOutcome(o)
}

func (s *FetchService) journalOutcome(o internal.Outcome) {
	if s.journal == nil {
		return
	}
	if err := s.journal.RecordOutcome(s.runID, o); err != nil {
		s.log.Warn("journal write failed", "err", err)
	}
}
