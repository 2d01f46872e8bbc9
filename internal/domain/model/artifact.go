package model

import "time"

// FetchKind selects which artifact to look for in the mailbox.
type FetchKind string

const (
	FetchSignInCode    FetchKind = "signin_code"
	FetchHouseholdLink FetchKind = "household_link"
	FetchPasswordReset FetchKind = "password_reset"
)

// ArtifactType is the shape of an extracted artifact.
type ArtifactType string

const (
	ArtifactNone ArtifactType = ""
	ArtifactCode ArtifactType = "code"
	ArtifactLink ArtifactType = "link"
)

// Artifact is a sign-in code or verification link taken from a mail message.
// A zero Type means nothing qualifying was found.
type Artifact struct {
	Type       ArtifactType
	Value      string
	Subject    string
	ReceivedAt time.Time
}

func (a Artifact) Found() bool { return a.Type != ArtifactNone && a.Value != "" }

// FetchResult is returned by a completed mailbox fetch.
type FetchResult struct {
	Kind     FetchKind
	Mailbox  string // address that was scanned
	Artifact Artifact
}
