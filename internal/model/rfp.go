package model

import "time"

// RfpStatus is the single source of truth for where an RFP sits in the
// intake workflow. Groupings shown to users ("analyzing" etc.) are computed
// views over this enum, never stored separately.
type RfpStatus string

const (
	StatusEmpty           RfpStatus = "EMPTY"
	StatusOriginDefined   RfpStatus = "ORIGIN_DEFINED"
	StatusUploaded        RfpStatus = "UPLOADED"
	StatusParsing         RfpStatus = "PARSING"
	StatusParsed          RfpStatus = "PARSED"
	StatusExtracting      RfpStatus = "EXTRACTING"
	StatusExtracted       RfpStatus = "EXTRACTED"
	StatusReviewing       RfpStatus = "REVIEWING"
	StatusConfirmed       RfpStatus = "CONFIRMED"
	StatusNeedsReanalysis RfpStatus = "NEEDS_REANALYSIS"
	StatusOnHold          RfpStatus = "ON_HOLD"
	StatusFailed          RfpStatus = "FAILED"
)

// statusLabels maps each status to its display label. The enum and labels are
// a closed, versioned contract with consumers.
var statusLabels = map[RfpStatus]string{
	StatusEmpty:           "Empty",
	StatusOriginDefined:   "Origin Defined",
	StatusUploaded:        "Uploaded",
	StatusParsing:         "Parsing",
	StatusParsed:          "Parsed",
	StatusExtracting:      "Extracting",
	StatusExtracted:       "Extracted",
	StatusReviewing:       "In Review",
	StatusConfirmed:       "Confirmed",
	StatusNeedsReanalysis: "Needs Re-analysis",
	StatusOnHold:          "On Hold",
	StatusFailed:          "Failed",
}

// Label returns the display label for s. Unknown values fall into a generic
// processing bucket so consumers never fail on future states.
func (s RfpStatus) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return "Processing"
}

// Known reports whether s is one of the twelve contract states.
func (s RfpStatus) Known() bool {
	_, ok := statusLabels[s]
	return ok
}

// Processing reports whether s is a state clients should keep polling
// through. Terminal-for-this-cycle states (EXTRACTED, CONFIRMED, FAILED,
// ON_HOLD, ...) return false. Unknown future states count as processing.
func (s RfpStatus) Processing() bool {
	switch s {
	case StatusParsing, StatusParsed, StatusExtracting:
		return true
	case StatusEmpty, StatusOriginDefined, StatusUploaded, StatusExtracted,
		StatusReviewing, StatusConfirmed, StatusNeedsReanalysis, StatusOnHold, StatusFailed:
		return false
	}
	return true
}

// Project is the minimal owner record an RFP belongs to. Its policy is fixed
// at origin-selection time.
type Project struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	OriginType OriginType    `json:"origin_type,omitempty"`
	Policy     *OriginPolicy `json:"policy,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Rfp is the aggregate root of the intake workflow. It owns an append-only
// list of versions; the latest run and KPI are derived views, not stored.
type Rfp struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"project_id"`
	Title            string     `json:"title"`
	OriginType       OriginType `json:"origin_type"`
	Status           RfpStatus  `json:"status"`
	PreviousStatus   RfpStatus  `json:"previous_status,omitempty"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	FailureReasonDev string     `json:"failure_reason_dev,omitempty"`
	VersionCount     int        `json:"version_count"`
	CreatedBy        string     `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`

	Versions []RfpVersion `json:"versions,omitempty"`
}

// RfpVersion is one immutable uploaded revision of an RFP document. A version
// is the unit of extraction and of diffing.
type RfpVersion struct {
	ID           string    `json:"id"`
	RfpID        string    `json:"rfp_id"`
	VersionLabel string    `json:"version_label"`
	FileChecksum string    `json:"file_checksum"`
	FileURI      string    `json:"file_uri"`
	ContentType  string    `json:"content_type"`
	SizeBytes    int64     `json:"size_bytes"`
	UploadedBy   string    `json:"uploaded_by"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// KPI summarizes review progress for one RFP.
type KPI struct {
	RfpID            string  `json:"rfp_id"`
	CandidateCount   int     `json:"candidate_count"`
	AcceptedCount    int     `json:"accepted_count"`
	ModifiedCount    int     `json:"modified_count"`
	RejectedCount    int     `json:"rejected_count"`
	ProposedCount    int     `json:"proposed_count"`
	AmbiguousCount   int     `json:"ambiguous_count"`
	RequirementCount int     `json:"requirement_count"`
	AvgConfidence    float64 `json:"avg_confidence"`
}
