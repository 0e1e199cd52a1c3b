package store

import "time"

// User is the display record for an authenticated principal. Identity is
// owned elsewhere; rows are upserted when a principal first acts.
type User struct {
	ID        string
	Username  string
	CreatedAt time.Time
}

type Document struct {
	ID             string
	RepoID         string
	Title          string
	Slug           string
	CurrentContent string
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type DocumentVersion struct {
	ID            string
	DocumentID    string
	VersionNumber int
	Content       string
	CommitMessage string
	CreatedBy     string
	CreatedAt     time.Time
}

type DURStatus string

const (
	DURStatusOpen     DURStatus = "open"
	DURStatusApproved DURStatus = "approved"
	DURStatusMerged   DURStatus = "merged"
	DURStatusRejected DURStatus = "rejected"
)

func (s DURStatus) Valid() bool {
	switch s {
	case DURStatusOpen, DURStatusApproved, DURStatusMerged, DURStatusRejected:
		return true
	default:
		return false
	}
}

func (s DURStatus) Terminal() bool {
	return s == DURStatusMerged || s == DURStatusRejected
}

type DUR struct {
	ID              string
	RepoID          string
	DocumentID      string
	Title           string
	Description     string
	ProposedContent string
	Status          DURStatus
	BaseVersion     int
	MergedVersion   int
	CreatedBy       string
	ReviewedBy      string
	ReviewComment   string
	CreatedAt       time.Time
	ReviewedAt      *time.Time
}

type Comment struct {
	ID        string
	DURID     string
	AuthorID  string
	Content   string
	CreatedAt time.Time
}
