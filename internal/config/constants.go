package config

import "time"

// Planner backend types
const (
	BackendOpenAI    = "openai"
	BackendLangChain = "langchain"
	BackendGemini    = "gemini"
)

// Diff modes
const (
	ModeWorking = "working"
	ModeStaged  = "staged"
	ModePR      = "pr"
	ModeCommit  = "commit"
	ModeAuto    = "auto"
)

// Scanner defaults
const (
	DefaultScannerTimeout = 30 * time.Second
)

// Diff rendering markers
const (
	MarkerTruncated = "\n\n[... TRUNCATED FOR TOKEN LIMIT ...]"
	MarkerOmitted   = " [... context lines omitted ...]"
	MarkerDeleted   = "- [... %d lines deleted ...]"
)

// Fusion reason strings. The tracker and downstream tooling group on these,
// so they are part of the wire contract.
const (
	ReasonDroppedMissingUnitID = "dropped_missing_unit_id"
	ReasonDroppedLowConfidence = "dropped_by_fusion_low_confidence"
	ReasonRuleHighFallback     = "rule_high_confidence_fallback"
	ReasonRuleMediumFallback   = "rule_medium_confidence_fallback"
	ReasonRuleLowFallback      = "rule_low_confidence_fallback"
)

// Workflow event types with special handling in the session store.
const (
	EventThought = "thought"
	EventChunk   = "chunk"
)

// Static scan event types
const (
	EventScanStart     = "static_scan_start"
	EventScanFileStart = "static_scan_file_start"
	EventScanFileDone  = "static_scan_file_done"
	EventScanComplete  = "static_scan_complete"
)
