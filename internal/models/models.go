package models

import (
	"encoding/json"
	"time"
)

// Kind is the outcome of classifying a single file.
type Kind string

const (
	KindWhitelisted        Kind = "CLEAN_WHITELISTED"
	KindMaliciousFamily    Kind = "MALICIOUS_FAMILY"
	KindMaliciousSignature Kind = "MALICIOUS_SIGNATURE"
	KindMaliciousPattern   Kind = "MALICIOUS_PATTERN"
	KindCleanNew           Kind = "CLEAN_NEW"
	KindHashError          Kind = "HASH_ERROR"
)

// Malicious reports whether the kind is one of the detection tiers.
func (k Kind) Malicious() bool {
	switch k {
	case KindMaliciousFamily, KindMaliciousSignature, KindMaliciousPattern:
		return true
	}
	return false
}

// ScanType tells who started a scan session.
type ScanType string

const (
	ScanTypeCustom   ScanType = "CUSTOM"
	ScanTypeAutoscan ScanType = "AUTOSCAN"
	ScanTypeManual   ScanType = "MANUAL"
)

// ScanState is the lifecycle state of a scan session.
type ScanState string

const (
	StateIdle      ScanState = "idle"
	StateScanning  ScanState = "scanning"
	StateCompleted ScanState = "completed"
)

// FileRecord is the per-scan view of one file.
type FileRecord struct {
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint"`
	Size        int64  `json:"size"`
}

// SignatureEntry is a row of the signature store.
type SignatureEntry struct {
	Fingerprint string `json:"fingerprint"`
	FirstSeen   string `json:"first_seen"`
	Signature   string `json:"signature"`
}

// FamilyMetadata describes a curated malware family. Optional fields are kept
// verbatim because the catalogue is supplied externally.
type FamilyMetadata struct {
	FamilyName          string          `json:"family_name"`
	Description         string          `json:"description,omitempty"`
	CVEScores           json.RawMessage `json:"cve_scores,omitempty"`
	History             json.RawMessage `json:"history,omitempty"`
	Origin              json.RawMessage `json:"origin,omitempty"`
	Authorship          json.RawMessage `json:"authorship,omitempty"`
	AffectedNations     json.RawMessage `json:"affected_nations,omitempty"`
	DetectionTechniques json.RawMessage `json:"detection_techniques,omitempty"`
}

// Detection is what the pipeline hands to the quarantine manager.
type Detection struct {
	Kind        Kind   `json:"kind"`
	Fingerprint string `json:"fingerprint"`
	// Detail is the family name, signature label or pattern rule id.
	Detail string `json:"detail"`
}

// QuarantineRecord is one ledger entry. Name is the stored file name inside
// the quarantine directory.
type QuarantineRecord struct {
	Name          string    `json:"name"`
	OriginalPath  string    `json:"original_path"`
	Fingerprint   string    `json:"fingerprint"`
	DetectionType Kind      `json:"detection_type"`
	Detail        string    `json:"detail"`
	Timestamp     time.Time `json:"timestamp"`
	Size          int64     `json:"size"`
	FileType      string    `json:"file_type,omitempty"`
}

// Result is the classification of a single file.
type Result struct {
	Kind           Kind            `json:"kind"`
	Path           string          `json:"path"`
	Fingerprint    string          `json:"fingerprint,omitempty"`
	Family         *FamilyMetadata `json:"family,omitempty"`
	Signature      string          `json:"signature,omitempty"`
	FirstSeen      string          `json:"first_seen,omitempty"`
	Rule           string          `json:"rule,omitempty"`
	Quarantined    bool            `json:"quarantined"`
	QuarantineName string          `json:"quarantine_name,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// MatchCounts holds per-tier detection counts.
type MatchCounts struct {
	Family    int `json:"family"`
	Signature int `json:"signature"`
	Pattern   int `json:"pattern"`
}

// Total returns the number of malicious matches.
func (m MatchCounts) Total() int {
	return m.Family + m.Signature + m.Pattern
}

// ScanSummary aggregates the results of a session.
type ScanSummary struct {
	TotalFiles      int         `json:"total_files"`
	Matches         MatchCounts `json:"matches"`
	Whitelisted     int         `json:"whitelisted"`
	NewWhitelisted  int         `json:"new_whitelisted"`
	HashErrors      int         `json:"hash_errors"`
	TotalMatches    int         `json:"total_matches"`
	MatchPercentage float64     `json:"match_percentage"`
}

// Add folds one result into the summary counters.
func (s *ScanSummary) Add(r Result) {
	switch r.Kind {
	case KindMaliciousFamily:
		s.Matches.Family++
	case KindMaliciousSignature:
		s.Matches.Signature++
	case KindMaliciousPattern:
		s.Matches.Pattern++
	case KindWhitelisted:
		s.Whitelisted++
	case KindCleanNew:
		s.NewWhitelisted++
	case KindHashError:
		s.HashErrors++
	}
}

// Finalize computes the derived totals.
func (s *ScanSummary) Finalize() {
	s.TotalMatches = s.Matches.Total()
	if s.TotalFiles > 0 {
		s.MatchPercentage = float64(s.TotalMatches) / float64(s.TotalFiles) * 100
	} else {
		s.MatchPercentage = 0
	}
}

// ScanReport is returned by a completed (or cancelled) session.
type ScanReport struct {
	SessionID           string      `json:"session_id"`
	ScanType            ScanType    `json:"scan_type"`
	Root                string      `json:"root"`
	StartedAt           time.Time   `json:"started_at"`
	FinishedAt          time.Time   `json:"finished_at"`
	Partial             bool        `json:"partial,omitempty"`
	Summary             ScanSummary `json:"scan_summary"`
	MatchedFiles        []Result    `json:"matched_files"`
	WhitelistedFiles    []string    `json:"whitelisted_files,omitempty"`
	NewWhitelistedFiles []string    `json:"new_whitelisted_files,omitempty"`
}

// ScanStatus is a point-in-time snapshot of a session.
type ScanStatus struct {
	SessionID    string    `json:"session_id"`
	State        ScanState `json:"state"`
	ScanType     ScanType  `json:"scan_type"`
	Root         string    `json:"root,omitempty"`
	Progress     int       `json:"progress"`
	TotalFiles   int       `json:"total_files"`
	CurrentFile  string    `json:"current_file,omitempty"`
	ThreatsFound []string  `json:"threats_found"`
}

// ScanLogEntry is appended once per completed session.
type ScanLogEntry struct {
	ScanType     ScanType  `json:"scan_type"`
	FilesScanned int       `json:"files_scanned"`
	Threats      int       `json:"threats"`
	Timestamp    time.Time `json:"timestamp"`
	Root         string    `json:"root"`
}

// UpdateSummary is returned by a definition update.
type UpdateSummary struct {
	Rows        int    `json:"rows"`
	Inserted    int    `json:"inserted"`
	Skipped     int    `json:"skipped"`
	LastUpdated string `json:"last_updated"`
}

// Response is the shape used at the collaborator boundary.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Ok builds a successful response.
func Ok(message string, data interface{}) Response {
	return Response{Success: true, Message: message, Data: data}
}

// Fail builds a failed response from an error.
func Fail(err error) Response {
	return Response{Success: false, Message: err.Error()}
}

// StatsResponse is served on the stats endpoint.
type StatsResponse struct {
	TotalSignatures int    `json:"total_signatures"`
	Whitelisted     int    `json:"whitelisted"`
	Quarantined     int    `json:"quarantined"`
	ActiveScans     int    `json:"active_scans"`
	LastUpdated     string `json:"last_updated"`
}
