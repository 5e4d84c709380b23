package internal

import "time"

type Strategy string

const (
	StrategyRenderText         Strategy = "render_text"
	StrategyRenderHTML         Strategy = "render_html"
	StrategyAttachment         Strategy = "attachment"
	StrategyAttachmentFiltered Strategy = "attachment_filtered"
	StrategySkip               Strategy = "skip"
)

// Mode switches which payment methods and receipt kinds count as eligible.
type Mode string

const (
	ModeMobilityPackage Mode = "mobility_package"
	ModeExpenses        Mode = "expenses"
)

type Attachment struct {
	FileName    string
	ContentType string
	ContentID   string
	Content     []byte
}

// Message is a read-only view over one fetched mail.
type Message struct {
	From        string
	To          string
	Subject     string
	MessageID   string
	// Digest identifies the raw message content when MessageID is missing.
	Digest      string
	Date        time.Time
	Text        string
	HTML        string
	Attachments []Attachment
	Inlines     []Attachment
}

type Record struct {
	Supplier string
	Amount   string
	Date     string
}

type Outcome struct {
	Server    string
	Handler   string
	MessageID string
	Subject   string
	Status    string
	File      string
	Detail    string
}

const (
	OutcomeSaved     = "saved"
	OutcomeExists    = "exists"
	OutcomeSkipped   = "skipped"
	OutcomeExtracted = "extracted"
	OutcomeUnhandled = "unhandled"
	OutcomeFailed    = "failed"
)
